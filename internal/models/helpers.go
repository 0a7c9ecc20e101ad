package models

import (
	"fmt"

	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RecordIDString safely extracts the string part of a SurrealDB RecordID.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// MustRecordIDString extracts the string ID, panicking if not a string.
// Use only after DB operations that are known to return string IDs.
func MustRecordIDString(id surrealmodels.RecordID) string {
	s, err := RecordIDString(id)
	if err != nil {
		panic(err)
	}
	return s
}

// NewID returns a fresh record id. UUIDv7 so ids sort by creation time,
// matching the created_at ordering used throughout the message store.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ChatRecord builds a chat table RecordID from a plain id string.
func ChatRecord(id string) surrealmodels.RecordID {
	return surrealmodels.RecordID{Table: "chat", ID: id}
}

// MessageRecord builds a message table RecordID from a plain id string.
func MessageRecord(id string) surrealmodels.RecordID {
	return surrealmodels.RecordID{Table: "message", ID: id}
}

// PreviewLen is the maximum rune length of branch descriptor previews.
const PreviewLen = 80

// Preview truncates a prompt for display in a branch descriptor.
func Preview(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= PreviewLen {
		return prompt
	}
	return string(runes[:PreviewLen-1]) + "…"
}
