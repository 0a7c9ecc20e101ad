// Package models defines the chat and message documents stored in SurrealDB.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Chat is one conversation tree. The tree itself lives in the message
// table; the chat document carries the branch index and the default tip.
type Chat struct {
	ID        surrealmodels.RecordID `json:"id"`
	User      string                 `json:"user"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`

	// Prompt is the first user message, captured at creation for display
	// in the chat list. Not authoritative content.
	Prompt string `json:"prompt"`

	// LastMessageID is the tip of the default path, i.e. what a fresh
	// viewer sees when no branch is selected.
	LastMessageID *string `json:"last_message_id,omitempty"`

	Public bool `json:"public"`

	// Branches registers every alternative continuation, ordered by commit
	// time. Stored as a flat array so concurrent forks append entries
	// instead of replacing a map value. Use BranchMap for lookups.
	Branches []BranchEntry `json:"branches,omitempty"`
}

// BranchEntry is one selectable continuation registered at a branch point.
type BranchEntry struct {
	// At is the branch-point message id.
	At string `json:"at"`
	// ID is the first message of the fork, or nil for the original,
	// un-forked continuation.
	ID     *string `json:"id"`
	Prompt string  `json:"prompt"`
}

// BranchRef is a continuation at an already-known branch point.
type BranchRef struct {
	ID     *string `json:"id"`
	Prompt string  `json:"prompt"`
}

// BranchMap groups branch entries by branch point, preserving order.
func (c *Chat) BranchMap() map[string][]BranchRef {
	if len(c.Branches) == 0 {
		return nil
	}
	m := make(map[string][]BranchRef, len(c.Branches))
	for _, e := range c.Branches {
		m[e.At] = append(m[e.At], BranchRef{ID: e.ID, Prompt: e.Prompt})
	}
	return m
}

// BranchCount returns the number of explicit forks across all branch points.
func (c *Chat) BranchCount() int {
	n := 0
	for _, e := range c.Branches {
		if e.ID != nil {
			n++
		}
	}
	return n
}
