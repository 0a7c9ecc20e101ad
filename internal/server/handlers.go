package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tfreechat/tfreechat-go/internal/ai"
	"github.com/tfreechat/tfreechat-go/internal/chat"
	"github.com/tfreechat/tfreechat-go/internal/db"
)

// sendPayload is the send-message request body.
type sendPayload struct {
	Text     string `json:"text"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	ChatID   string `json:"chatId,omitempty"`
	Public   bool   `json:"public,omitempty"`

	PreviousMessage *previousPayload `json:"previousMessage,omitempty"`
	Capabilities    *capsPayload     `json:"capabilities,omitempty"`
}

type previousPayload struct {
	ID        string  `json:"id"`
	Timestamp string  `json:"timestamp,omitempty"`
	Path      *string `json:"path,omitempty"`
	NewBranch *bool   `json:"newBranch,omitempty"`
}

type capsPayload struct {
	WebSearch bool `json:"webSearch,omitempty"`
}

// fork reports whether the reference asks for a new branch. An absent
// path signals a fork; an explicit newBranch flag wins when present.
func (p *previousPayload) fork() bool {
	if p.NewBranch != nil {
		return *p.NewBranch
	}
	return p.Path == nil
}

func (p *sendPayload) toRequest(user string) *chat.SendRequest {
	req := &chat.SendRequest{
		User:     user,
		ChatID:   p.ChatID,
		Prompt:   p.Text,
		Provider: p.Provider,
		Model:    p.Model,
		Public:   p.Public,
	}
	if p.Capabilities != nil {
		req.WebSearch = p.Capabilities.WebSearch
	}
	if p.PreviousMessage != nil {
		req.Previous = &chat.PreviousRef{
			ID:        p.PreviousMessage.ID,
			NewBranch: p.PreviousMessage.fork(),
		}
	}
	return req
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps engine errors onto HTTP statuses without leaking
// internals.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, db.ErrNotFound), errors.Is(err, db.ErrChatUnavailable):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleText streams one text generation as SSE. Headers are written
// lazily so pre-stream validation failures still surface as JSON errors;
// once the stream is open, a failure simply ends it without the terminal
// [DONE] frame.
func (s *Server) handleText(w http.ResponseWriter, r *http.Request, user string) {
	var payload sendPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Generation and persistence outlive the connection: a disconnect only
	// stops the SSE writes, never the send.
	ctx := context.WithoutCancel(r.Context())

	streamOpen := false
	_, err := s.svc.SendText(ctx, payload.toRequest(user), func(ev chat.StreamEvent) error {
		data, ok := ev.SSEData()
		if !ok {
			return nil
		}
		if !streamOpen {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			streamOpen = true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && !streamOpen {
		writeServiceError(w, err)
	}
}

// handleImage runs one image generation and responds with the finalized
// message. Failures persist a reply.error marker and surface the fixed
// user-safe message.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, user string) {
	var payload sendPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := s.svc.SendImage(context.WithoutCancel(r.Context()), payload.toRequest(user))
	if err != nil {
		if msg != nil {
			// Skeleton persisted, generation failed.
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":   chat.SafeErrImage,
				"message": renderMessage(msg),
			})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": renderMessage(msg)})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request, user string) {
	chats, err := s.svc.ListChats(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]chatJSON, 0, len(chats))
	for i := range chats {
		out = append(out, renderChat(&chats[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": out})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request, user string) {
	view, err := s.svc.ChatView(r.Context(), user, r.PathValue("id"), r.URL.Query().Get("viewBranchId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderView(view))
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request, user string) {
	if err := s.svc.DeleteChat(r.Context(), user, r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPublic(w http.ResponseWriter, r *http.Request, user string) {
	var body struct {
		Public bool `json:"public"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.svc.SetPublic(r.Context(), user, r.PathValue("id"), body.Public); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelJSON struct {
		ID           string          `json:"id"`
		Label        string          `json:"label"`
		Capabilities []ai.Capability `json:"capabilities,omitempty"`
	}
	out := make(map[string][]modelJSON)
	for provider, ms := range ai.Models() {
		for _, m := range ms {
			out[provider] = append(out[provider], modelJSON{
				ID:           m.ID,
				Label:        m.Label,
				Capabilities: m.Capabilities,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
