package server

import (
	"time"

	"github.com/tfreechat/tfreechat-go/internal/chat"
	"github.com/tfreechat/tfreechat-go/internal/models"
)

// Wire representations. Record ids travel as plain strings.

type messageJSON struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chatId"`
	Path      []string       `json:"path"`
	CreatedAt time.Time      `json:"createdAt"`
	Prompt    string         `json:"prompt"`
	AI        models.AISpec  `json:"ai"`
	Reply     *models.Reply  `json:"reply,omitempty"`
}

type chatJSON struct {
	ID            string                        `json:"id"`
	CreatedAt     time.Time                     `json:"createdAt"`
	UpdatedAt     time.Time                     `json:"updatedAt"`
	Prompt        string                        `json:"prompt"`
	LastMessageID *string                       `json:"lastMessageId,omitempty"`
	Public        bool                          `json:"public"`
	Branches      map[string][]models.BranchRef `json:"branches,omitempty"`
}

type branchOptionJSON struct {
	ID     *string `json:"id"`
	Prompt string  `json:"prompt"`
	Active bool    `json:"active"`
}

type viewJSON struct {
	Chat    chatJSON                      `json:"chat"`
	Thread  []messageJSON                 `json:"thread"`
	Menus   map[string][]branchOptionJSON `json:"menus,omitempty"`
	Pending bool                          `json:"pending"`
}

func renderMessage(m *models.Message) messageJSON {
	return messageJSON{
		ID:        models.MustRecordIDString(m.ID),
		ChatID:    models.MustRecordIDString(m.Chat),
		Path:      m.Path,
		CreatedAt: m.CreatedAt,
		Prompt:    m.Prompt,
		AI:        m.AI,
		Reply:     m.Reply,
	}
}

func renderChat(c *models.Chat) chatJSON {
	return chatJSON{
		ID:            models.MustRecordIDString(c.ID),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		Prompt:        c.Prompt,
		LastMessageID: c.LastMessageID,
		Public:        c.Public,
		Branches:      c.BranchMap(),
	}
}

func renderView(v *chat.View) viewJSON {
	out := viewJSON{
		Chat:    renderChat(v.Chat),
		Thread:  make([]messageJSON, 0, len(v.Thread)),
		Pending: v.Pending,
	}
	for i := range v.Thread {
		out.Thread = append(out.Thread, renderMessage(&v.Thread[i]))
	}
	if len(v.Menus) > 0 {
		out.Menus = make(map[string][]branchOptionJSON, len(v.Menus))
		for at, opts := range v.Menus {
			rendered := make([]branchOptionJSON, 0, len(opts))
			for _, o := range opts {
				rendered = append(rendered, branchOptionJSON{ID: o.ID, Prompt: o.Prompt, Active: o.Active})
			}
			out.Menus[at] = rendered
		}
	}
	return out
}
