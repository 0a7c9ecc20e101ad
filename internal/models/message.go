package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// AISpec identifies which backend produced (or will produce) the reply.
type AISpec struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

// CapabilitiesUsed records which optional model capabilities were actually
// exercised during generation.
type CapabilitiesUsed struct {
	WebSearch       bool `json:"web_search,omitempty"`
	ImageGeneration bool `json:"image_generation,omitempty"`
}

// Reply is the terminal outcome of exactly one generation attempt.
// Text/Image and Error are mutually exclusive.
type Reply struct {
	ID               string            `json:"id"`
	CreatedAt        time.Time         `json:"created_at"`
	Text             string            `json:"text,omitempty"`
	Image            string            `json:"image,omitempty"`
	Error            string            `json:"error,omitempty"`
	CapabilitiesUsed *CapabilitiesUsed `json:"capabilities_used,omitempty"`
}

// Message is one prompt/reply exchange in a chat tree.
//
// Path is the ordered id chain from the tree root down to and including
// this message. Branch membership is containment: a message belongs to
// branch key k when k appears in its path. When the first fork is created
// at a message, that message's id is retroactively appended to the path of
// every ancestor in its chain, exactly once (see db.AppendMessage).
type Message struct {
	ID        surrealmodels.RecordID `json:"id"`
	Chat      surrealmodels.RecordID `json:"chat"`
	Path      []string               `json:"path"`
	CreatedAt time.Time              `json:"created_at"`
	Prompt    string                 `json:"prompt"`
	AI        AISpec                 `json:"ai"`
	Reply     *Reply                 `json:"reply,omitempty"`
}

// Pending reports whether generation for this message has not terminated.
func (m *Message) Pending() bool {
	return m.Reply == nil
}

// Failed reports whether generation terminated with an error.
func (m *Message) Failed() bool {
	return m.Reply != nil && m.Reply.Error != ""
}

// ParentID returns the id of this message's parent in the tree, or ""
// for the root message. The parent is the id preceding the message's own
// id in its chain; retroactive branch-key stamps appended after the own id
// are skipped.
func (m *Message) ParentID() (string, error) {
	own, err := RecordIDString(m.ID)
	if err != nil {
		return "", err
	}
	prev := ""
	for _, id := range m.Path {
		if id == own {
			return prev, nil
		}
		prev = id
	}
	// Own id missing from the chain: treat as root.
	return "", nil
}
