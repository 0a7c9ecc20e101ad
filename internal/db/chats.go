package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/tfreechat/tfreechat-go/internal/models"
)

// GetChat fetches one chat document including its branch index.
// Returns ErrNotFound when the chat does not exist.
func (c *Client) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	defer c.track("db_query", time.Now())

	sql := `SELECT * FROM type::record("chat", $id)`

	results, err := surrealdb.Query[[]models.Chat](ctx, c.db, sql, map[string]any{
		"id": chatID,
	})
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	chat := (*results)[0].Result[0]
	return &chat, nil
}

// ListChats returns all chats owned by a user, most recently active first.
func (c *Client) ListChats(ctx context.Context, user string) ([]models.Chat, error) {
	defer c.track("db_query", time.Now())

	sql := `SELECT * FROM chat WHERE user = $user ORDER BY updated_at DESC`

	results, err := surrealdb.Query[[]models.Chat](ctx, c.db, sql, map[string]any{
		"user": user,
	})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.Chat{}, nil
}

// SetChatPublic toggles whether a chat is readable without ownership.
func (c *Client) SetChatPublic(ctx context.Context, chatID string, public bool) error {
	defer c.track("db_query", time.Now())

	sql := `UPDATE type::record("chat", $id) SET public = $public RETURN AFTER`

	results, err := surrealdb.Query[[]models.Chat](ctx, c.db, sql, map[string]any{
		"id":     chatID,
		"public": public,
	})
	if err != nil {
		return fmt.Errorf("set chat public: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChat removes a chat and every message in its tree. The delete is
// transactional so a concurrent append observes either the full chat or
// nothing.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	defer c.track("db_tx", time.Now())

	sql := `
		BEGIN TRANSACTION;

		LET $chat = (SELECT * FROM ONLY type::record("chat", $id));
		IF $chat == NONE {
			THROW "chat unavailable"
		};

		DELETE message WHERE chat = type::record("chat", $id);
		DELETE type::record("chat", $id);

		COMMIT TRANSACTION;
	`

	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id": chatID,
	})
	if err != nil {
		return fmt.Errorf("delete chat: %w", wrapQueryError(err))
	}
	return nil
}
