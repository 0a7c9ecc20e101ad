package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/tfreechat/tfreechat-go/internal/models"
)

// AppendBatch describes one message append, fully resolved by the caller.
// The batch commits atomically: chat creation or liveness check, first-fork
// path stamping, branch descriptor registration, message insert and chat
// tip advance all land together or not at all.
type AppendBatch struct {
	ChatID    string
	MessageID string
	Prompt    string
	AI        models.AISpec

	// Path is the full ancestor chain ending in MessageID.
	Path []string

	// CreateChat inserts the chat document as part of the batch. User and
	// Public are only read in that case.
	CreateChat bool
	User       string
	Public     bool

	// NewBranch registers MessageID as a fork at AnchorID. Ancestors is
	// the chain strictly above the anchor; on the first fork at AnchorID
	// each of them gains the anchor id in its path, exactly once.
	NewBranch bool
	AnchorID  string
	Ancestors []string

	// Preview is the branch descriptor preview for the new fork.
	Preview string

	// PendingReply seeds the message with a placeholder reply. Used by the
	// image flow; nil leaves the message pending.
	PendingReply *models.Reply
}

const appendMessageSQL = `
	BEGIN TRANSACTION;

	IF $create_chat {
		CREATE type::record("chat", $chat_id) CONTENT {
			user: $user,
			created_at: time::now(),
			updated_at: time::now(),
			prompt: $prompt,
			last_message_id: $msg_id,
			public: $public,
			branches: [],
		};
	} ELSE {
		IF (SELECT * FROM ONLY type::record("chat", $chat_id)) == NONE {
			THROW "chat unavailable"
		};
	};

	IF $new_branch {
		LET $registered = (SELECT VALUE branches FROM ONLY type::record("chat", $chat_id)) ?? [];
		IF array::len($registered[WHERE at = $anchor_id]) == 0 {
			-- The implicit descriptor previews the original continuation:
			-- the earliest message below the anchor. Resolved before the
			-- stamping update, which adds the anchor id to ancestor paths.
			LET $original = (SELECT VALUE prompt FROM message
				WHERE chat = type::record("chat", $chat_id)
					AND path CONTAINS $anchor_id
					AND id != type::record("message", $anchor_id)
				ORDER BY created_at ASC LIMIT 1)[0];
			UPDATE message SET path += $anchor_id
				WHERE id IN $ancestors AND path CONTAINSNOT $anchor_id;
			UPDATE type::record("chat", $chat_id) SET
				branches += { at: $anchor_id, id: NONE, prompt: $original ?? "" };
		};
		UPDATE type::record("chat", $chat_id) SET
			branches += { at: $anchor_id, id: $msg_id, prompt: $preview };
	};

	CREATE type::record("message", $msg_id) CONTENT {
		chat: type::record("chat", $chat_id),
		path: $path,
		created_at: time::now(),
		prompt: $prompt,
		ai: $ai,
		reply: $reply,
	};

	IF !$create_chat {
		UPDATE type::record("chat", $chat_id) SET
			updated_at = time::now(),
			last_message_id = $msg_id;
	};

	COMMIT TRANSACTION;
`

// AppendMessage commits one append batch and returns the stored message.
// Returns ErrChatUnavailable when the target chat was deleted under the
// batch, and ErrTransactionConflict when a concurrent batch on the same
// chat forced a rollback.
func (c *Client) AppendMessage(ctx context.Context, b AppendBatch) (*models.Message, error) {
	defer c.track("db_tx", time.Now())

	ancestors := make([]any, 0, len(b.Ancestors))
	for _, id := range b.Ancestors {
		ancestors = append(ancestors, models.MessageRecord(id))
	}

	vars := map[string]any{
		"chat_id":     b.ChatID,
		"msg_id":      b.MessageID,
		"prompt":      b.Prompt,
		"ai":          b.AI,
		"path":        b.Path,
		"create_chat": b.CreateChat,
		"user":        b.User,
		"public":      b.Public,
		"new_branch":  b.NewBranch,
		"anchor_id":   b.AnchorID,
		"ancestors":   ancestors,
		"preview":     b.Preview,
		"reply":       b.PendingReply,
	}

	if _, err := surrealdb.Query[any](ctx, c.db, appendMessageSQL, vars); err != nil {
		return nil, fmt.Errorf("append message: %w", wrapQueryError(err))
	}

	return c.GetMessage(ctx, b.ChatID, b.MessageID)
}

// GetMessage fetches one message, verifying it belongs to the given chat.
func (c *Client) GetMessage(ctx context.Context, chatID, messageID string) (*models.Message, error) {
	defer c.track("db_query", time.Now())

	sql := `
		SELECT * FROM type::record("message", $id)
		WHERE chat = type::record("chat", $chat_id)
	`

	results, err := surrealdb.Query[[]models.Message](ctx, c.db, sql, map[string]any{
		"id":      messageID,
		"chat_id": chatID,
	})
	if err != nil {
		return nil, fmt.Errorf("get message: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	msg := (*results)[0].Result[0]
	return &msg, nil
}

// AttachReply finalizes a pending message with its terminal reply. The
// write applies at most once; a second attach for the same message leaves
// the stored reply untouched and returns false. Returns ErrNotFound when
// the message does not exist in the chat.
func (c *Client) AttachReply(ctx context.Context, chatID, messageID string, reply models.Reply) (bool, error) {
	defer c.track("db_query", time.Now())

	sql := `
		UPDATE type::record("message", $id) SET reply = $reply
		WHERE chat = type::record("chat", $chat_id) AND reply == NONE
		RETURN AFTER
	`

	results, err := surrealdb.Query[[]models.Message](ctx, c.db, sql, map[string]any{
		"id":      messageID,
		"chat_id": chatID,
		"reply":   reply,
	})
	if err != nil {
		return false, fmt.Errorf("attach reply: %w", wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		if err := c.touchChat(ctx, chatID); err != nil {
			return true, err
		}
		return true, nil
	}

	// Nothing updated: either the message is unknown or the reply was
	// already written.
	if _, err := c.GetMessage(ctx, chatID, messageID); err != nil {
		return false, err
	}
	return false, nil
}

// FinalizeImage stores the uploaded image URL on a placeholder reply.
// Skipped when the reply has already failed.
func (c *Client) FinalizeImage(ctx context.Context, chatID, messageID, imageURL string) error {
	defer c.track("db_query", time.Now())

	sql := `
		UPDATE type::record("message", $id) SET reply.image = $url
		WHERE chat = type::record("chat", $chat_id)
			AND reply != NONE AND reply.error == NONE
		RETURN AFTER
	`

	results, err := surrealdb.Query[[]models.Message](ctx, c.db, sql, map[string]any{
		"id":      messageID,
		"chat_id": chatID,
		"url":     imageURL,
	})
	if err != nil {
		return fmt.Errorf("finalize image: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return ErrNotFound
	}
	return c.touchChat(ctx, chatID)
}

// FailReply marks a message's generation as failed with a user-safe error
// string. Works for pending messages and for image placeholders, but never
// clobbers a successfully finalized reply.
func (c *Client) FailReply(ctx context.Context, chatID, messageID, userError string) error {
	defer c.track("db_query", time.Now())

	sql := `
		UPDATE type::record("message", $id) SET reply = {
			id: $id,
			created_at: reply.created_at ?? time::now(),
			capabilities_used: reply.capabilities_used,
			error: $error,
		}
		WHERE chat = type::record("chat", $chat_id)
			AND (reply == NONE OR (reply.text == NONE AND (reply.image == NONE OR reply.image == "")))
		RETURN AFTER
	`

	_, err := surrealdb.Query[[]models.Message](ctx, c.db, sql, map[string]any{
		"id":      messageID,
		"chat_id": chatID,
		"error":   userError,
	})
	if err != nil {
		return fmt.Errorf("fail reply: %w", wrapQueryError(err))
	}
	return nil
}

// ListThread returns the messages of one ancestor chain, oldest first,
// restricted to those created at or before the cutoff. The chain query is
// exact regardless of later forks because ids are looked up directly.
func (c *Client) ListThread(ctx context.Context, chatID string, chain []string, cutoff time.Time) ([]models.Message, error) {
	defer c.track("db_query", time.Now())

	ids := make([]any, 0, len(chain))
	for _, id := range chain {
		ids = append(ids, models.MessageRecord(id))
	}

	sql := `
		SELECT * FROM message
		WHERE chat = type::record("chat", $chat_id)
			AND id IN $ids
			AND created_at <= <datetime>$cutoff
		ORDER BY created_at ASC
	`

	results, err := surrealdb.Query[[]models.Message](ctx, c.db, sql, map[string]any{
		"chat_id": chatID,
		"ids":     ids,
		"cutoff":  cutoff.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("list thread: %w", wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.Message{}, nil
}

// ListByPath returns all messages whose path contains the given branch
// key, oldest first. A nil cutoff lists the whole branch.
func (c *Client) ListByPath(ctx context.Context, chatID, branchKey string, cutoff *time.Time) ([]models.Message, error) {
	defer c.track("db_query", time.Now())

	cutoffClause := ""
	vars := map[string]any{
		"chat_id": chatID,
		"key":     branchKey,
	}
	if cutoff != nil {
		cutoffClause = "AND created_at <= <datetime>$cutoff"
		vars["cutoff"] = cutoff.UTC().Format(time.RFC3339Nano)
	}

	sql := fmt.Sprintf(`
		SELECT * FROM message
		WHERE chat = type::record("chat", $chat_id)
			AND path CONTAINS $key
			%s
		ORDER BY created_at ASC
	`, cutoffClause)

	results, err := surrealdb.Query[[]models.Message](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list by path: %w", wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.Message{}, nil
}

// ListMessages returns every message of a chat, oldest first.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	defer c.track("db_query", time.Now())

	sql := `
		SELECT * FROM message
		WHERE chat = type::record("chat", $chat_id)
		ORDER BY created_at ASC
	`

	results, err := surrealdb.Query[[]models.Message](ctx, c.db, sql, map[string]any{
		"chat_id": chatID,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.Message{}, nil
}

// touchChat advances the chat's updated_at so list ordering tracks reply
// activity, not only appends.
func (c *Client) touchChat(ctx context.Context, chatID string) error {
	sql := `UPDATE type::record("chat", $id) SET updated_at = time::now()`
	if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"id": chatID}); err != nil {
		return fmt.Errorf("touch chat: %w", wrapQueryError(err))
	}
	return nil
}
