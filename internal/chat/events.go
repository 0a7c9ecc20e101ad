// Package chat implements the branching conversation engine: thread
// resolution over the message tree, the send protocol and the streaming
// coordinator that fans generation events out to attached clients.
package chat

import (
	"encoding/json"

	"github.com/tfreechat/tfreechat-go/internal/models"
)

// EventType discriminates stream events.
type EventType string

const (
	// EventHead opens a stream and tells the client which message the
	// following deltas belong to.
	EventHead EventType = "head"
	// EventText carries one text delta.
	EventText EventType = "text"
	// EventReasoning carries one reasoning delta.
	EventReasoning EventType = "reasoning"
	// EventDone marks a successfully finalized stream. A stream that ends
	// without it failed.
	EventDone EventType = "done"
	// EventReply notifies attached viewers that a reply was finalized.
	EventReply EventType = "reply"
	// EventChatDeleted notifies attached viewers that the chat is gone.
	EventChatDeleted EventType = "chat_deleted"
)

// StreamEvent is one update about a chat, published on the event bus and
// rendered onto SSE or WebSocket transports.
type StreamEvent struct {
	Type      EventType     `json:"type"`
	ChatID    string        `json:"chatId"`
	MessageID string        `json:"messageId,omitempty"`
	Path      []string      `json:"path,omitempty"`
	Text      string        `json:"text,omitempty"`
	Reasoning string        `json:"reasoning,omitempty"`
	Reply     *models.Reply `json:"reply,omitempty"`
}

// sseHead is the first frame of a text generation stream.
type sseHead struct {
	ChatID    string   `json:"chatId"`
	MessageID string   `json:"messageId"`
	Path      []string `json:"path"`
}

type sseText struct {
	Text string `json:"text"`
}

type sseReasoning struct {
	Reasoning string `json:"reasoning"`
}

// SSEDoneData is the literal terminal frame of a successful stream.
const SSEDoneData = "[DONE]"

// SSEData renders the event as the data payload of one SSE frame. Events
// that have no SSE representation return ok=false.
func (e StreamEvent) SSEData() (string, bool) {
	switch e.Type {
	case EventHead:
		b, err := json.Marshal(sseHead{ChatID: e.ChatID, MessageID: e.MessageID, Path: e.Path})
		if err != nil {
			return "", false
		}
		return string(b), true
	case EventText:
		b, err := json.Marshal(sseText{Text: e.Text})
		if err != nil {
			return "", false
		}
		return string(b), true
	case EventReasoning:
		b, err := json.Marshal(sseReasoning{Reasoning: e.Reasoning})
		if err != nil {
			return "", false
		}
		return string(b), true
	case EventDone:
		return SSEDoneData, true
	}
	return "", false
}
