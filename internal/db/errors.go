// Package db error types. Use errors.Is() in calling code.
package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrNotFound indicates the requested chat or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrChatUnavailable indicates the chat was deleted or never existed
	// while a mutation batch was in flight. No partial writes are visible.
	ErrChatUnavailable = errors.New("chat unavailable")

	// ErrAlreadyFinalized indicates an AttachReply call for a message whose
	// reply was already written. The original reply is never overwritten.
	ErrAlreadyFinalized = errors.New("reply already finalized")

	// ErrTransactionConflict indicates a SurrealDB transaction conflict
	// between concurrent writers of the same chat. Callers should retry.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// wrapQueryError maps SurrealDB query errors onto the sentinel errors above.
// THROW statements inside our transactions carry the sentinel text.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		switch {
		case strings.Contains(msg, "chat unavailable"):
			return fmt.Errorf("%w: %s", ErrChatUnavailable, msg)
		case strings.Contains(msg, "reply already finalized"):
			return fmt.Errorf("%w: %s", ErrAlreadyFinalized, msg)
		case strings.Contains(msg, "Transaction conflict"):
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
	}

	return err
}
