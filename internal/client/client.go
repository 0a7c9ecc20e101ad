// Package client provides a Go client for the tfreechat server: JSON
// calls, SSE generation streams and WebSocket chat subscriptions.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Client talks to one tfreechat server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client. If baseURL is empty, uses TFREECHAT_SERVER_URL or
// defaults to localhost:8080. The token authenticates every call.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("TFREECHAT_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			// No global timeout: generation streams are long-lived.
			// Per-call deadlines come from the caller's context.
		},
	}
}

// Wire types, mirroring the server's JSON surface.

type AISpec struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

type CapabilitiesUsed struct {
	WebSearch       bool `json:"web_search,omitempty"`
	ImageGeneration bool `json:"image_generation,omitempty"`
}

type Reply struct {
	ID               string            `json:"id"`
	CreatedAt        time.Time         `json:"created_at"`
	Text             string            `json:"text,omitempty"`
	Image            string            `json:"image,omitempty"`
	Error            string            `json:"error,omitempty"`
	CapabilitiesUsed *CapabilitiesUsed `json:"capabilities_used,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Path      []string  `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
	Prompt    string    `json:"prompt"`
	AI        AISpec    `json:"ai"`
	Reply     *Reply    `json:"reply,omitempty"`
}

type BranchRef struct {
	ID     *string `json:"id"`
	Prompt string  `json:"prompt"`
}

type Chat struct {
	ID            string                 `json:"id"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	Prompt        string                 `json:"prompt"`
	LastMessageID *string                `json:"lastMessageId,omitempty"`
	Public        bool                   `json:"public"`
	Branches      map[string][]BranchRef `json:"branches,omitempty"`
}

type BranchOption struct {
	ID     *string `json:"id"`
	Prompt string  `json:"prompt"`
	Active bool    `json:"active"`
}

type View struct {
	Chat    Chat                      `json:"chat"`
	Thread  []Message                 `json:"thread"`
	Menus   map[string][]BranchOption `json:"menus,omitempty"`
	Pending bool                      `json:"pending"`
}

type ModelInfo struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Event is one update from a generation stream or a chat subscription.
type Event struct {
	Type      string   `json:"type"`
	ChatID    string   `json:"chatId"`
	MessageID string   `json:"messageId,omitempty"`
	Path      []string `json:"path,omitempty"`
	Text      string   `json:"text,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	Reply     *Reply   `json:"reply,omitempty"`
}

// Event type values, matching the server.
const (
	EventHead        = "head"
	EventText        = "text"
	EventReasoning   = "reasoning"
	EventDone        = "done"
	EventReply       = "reply"
	EventChatDeleted = "chat_deleted"
)

// Previous anchors a send to an existing message.
type Previous struct {
	ID        string
	NewBranch bool
}

// SendOptions configures one send.
type SendOptions struct {
	ChatID    string
	Provider  string
	Model     string
	Previous  *Previous
	WebSearch bool
	Public    bool
}

type sendBody struct {
	Text            string         `json:"text"`
	Model           string         `json:"model"`
	Provider        string         `json:"provider"`
	ChatID          string         `json:"chatId,omitempty"`
	Public          bool           `json:"public,omitempty"`
	PreviousMessage map[string]any `json:"previousMessage,omitempty"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
}

func buildSendBody(text string, opts *SendOptions) sendBody {
	body := sendBody{
		Text:     text,
		Model:    opts.Model,
		Provider: opts.Provider,
		ChatID:   opts.ChatID,
		Public:   opts.Public,
	}
	if opts.Previous != nil {
		body.PreviousMessage = map[string]any{
			"id":        opts.Previous.ID,
			"newBranch": opts.Previous.NewBranch,
		}
	}
	if opts.WebSearch {
		body.Capabilities = map[string]any{"webSearch": true}
	}
	return body
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// apiError decodes an error response body.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return fmt.Errorf("server: %s (status %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SendText streams one text generation. onEvent receives the head event,
// deltas and the done marker in order. A stream that ends without done is
// reported as an error; the persisted reply carries the failure marker.
func (c *Client) SendText(ctx context.Context, text string, opts *SendOptions, onEvent func(Event) error) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/ai/text", buildSendBody(text, opts))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}

	done := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	sawHead := false
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 6 || line[:6] != "data: " {
			continue
		}
		data := line[6:]

		if data == "[DONE]" {
			done = true
			if err := onEvent(Event{Type: EventDone}); err != nil {
				return err
			}
			break
		}

		var frame struct {
			ChatID    string   `json:"chatId"`
			MessageID string   `json:"messageId"`
			Path      []string `json:"path"`
			Text      string   `json:"text"`
			Reasoning string   `json:"reasoning"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return fmt.Errorf("decode stream frame: %w", err)
		}

		var ev Event
		switch {
		case !sawHead:
			sawHead = true
			ev = Event{Type: EventHead, ChatID: frame.ChatID, MessageID: frame.MessageID, Path: frame.Path}
		case frame.Reasoning != "":
			ev = Event{Type: EventReasoning, Reasoning: frame.Reasoning}
		default:
			ev = Event{Type: EventText, Text: frame.Text}
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if !done {
		return fmt.Errorf("stream ended without [DONE]")
	}
	return nil
}

// SendImage runs one image generation and returns the finalized message.
func (c *Client) SendImage(ctx context.Context, text string, opts *SendOptions) (*Message, error) {
	var out struct {
		Message Message `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/ai/image", buildSendBody(text, opts), &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

// ListChats returns the caller's chats, most recently active first.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var out struct {
		Chats []Chat `json:"chats"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/chats", nil, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

// GetChat loads a chat view. viewBranch selects a branch; empty renders
// the default thread.
func (c *Client) GetChat(ctx context.Context, chatID, viewBranch string) (*View, error) {
	path := "/api/chats/" + chatID
	if viewBranch != "" {
		path += "?viewBranchId=" + viewBranch
	}
	var out View
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteChat removes a chat and its messages.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/chats/"+chatID, nil, nil)
}

// SetPublic toggles link sharing for a chat.
func (c *Client) SetPublic(ctx context.Context, chatID string, public bool) error {
	body := map[string]bool{"public": public}
	return c.doJSON(ctx, http.MethodPatch, "/api/chats/"+chatID+"/public", body, nil)
}

// Models returns the server's model catalog grouped by provider.
func (c *Client) Models(ctx context.Context) (map[string][]ModelInfo, error) {
	var out struct {
		Providers map[string][]ModelInfo `json:"providers"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}
