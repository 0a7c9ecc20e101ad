package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tfreechat/tfreechat-go/internal/chat"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // same-origin enforced by deployment, not the server
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 10 * time.Second
)

// wsFrame is one WebSocket message to a subscribed viewer.
type wsFrame struct {
	Type  string            `json:"type"`
	View  *viewJSON         `json:"view,omitempty"`
	Event *chat.StreamEvent `json:"event,omitempty"`
}

// handleSubscribe attaches a viewer to a chat over WebSocket: first a
// consistent snapshot, then every stream event from that point on. The
// connection closes when the chat is deleted or the client goes away.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, user string) {
	chatID := r.PathValue("id")
	view, events, err := s.svc.Subscribe(r.Context(), user, chatID, r.URL.Query().Get("viewBranchId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "chat_id", chatID, "error", err)
		return
	}
	defer conn.Close()

	send := func(frame wsFrame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(frame)
	}

	rendered := renderView(view)
	if err := send(wsFrame{Type: "snapshot", View: &rendered}); err != nil {
		return
	}

	// Drain client frames so pongs and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := send(wsFrame{Type: "event", Event: &ev}); err != nil {
				return
			}
			if ev.Type == chat.EventChatDeleted {
				return
			}
		}
	}
}
