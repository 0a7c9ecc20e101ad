package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsFrame mirrors the server's subscription frame.
type wsFrame struct {
	Type  string `json:"type"`
	View  *View  `json:"view,omitempty"`
	Event *Event `json:"event,omitempty"`
}

// Subscription is one viewer's attachment to a chat. Events delivers
// updates from the moment Snapshot was taken; Close detaches the viewer.
type Subscription struct {
	// Snapshot is the chat state at attach time.
	Snapshot *View
	// Events delivers updates until Close or chat deletion.
	Events <-chan Event

	once  sync.Once
	close func()
}

// Close detaches the viewer. The shared connection shuts down when the
// last viewer of the chat detaches.
func (s *Subscription) Close() {
	s.once.Do(s.close)
}

// Sessions multiplexes chat subscriptions: one WebSocket per chat is
// opened on the first viewer and torn down when the last viewer leaves.
// Explicit lifecycle instead of ambient listener state.
type Sessions struct {
	client *Client

	mu     sync.Mutex
	active map[string]*session
}

type session struct {
	cancel context.CancelFunc

	mu       sync.Mutex
	refs     int
	nextID   int
	sinks    map[int]chan Event
	snapshot *View
	closed   bool
}

// NewSessions creates the subscription multiplexer.
func NewSessions(c *Client) *Sessions {
	return &Sessions{
		client: c,
		active: make(map[string]*session),
	}
}

// Subscribe attaches a viewer to a chat. The first viewer opens the
// shared connection and blocks until the snapshot arrives; later viewers
// reuse it and get the session's snapshot immediately.
func (s *Sessions) Subscribe(ctx context.Context, chatID string) (*Subscription, error) {
	s.mu.Lock()
	sess, ok := s.active[chatID]
	if !ok {
		sessCtx, cancel := context.WithCancel(context.Background())
		sess = &session{
			cancel: cancel,
			sinks:  make(map[int]chan Event),
		}
		s.active[chatID] = sess
		s.mu.Unlock()

		snapshot, frames, err := s.client.dialSubscribe(sessCtx, chatID)
		if err != nil {
			cancel()
			s.drop(chatID, sess)
			return nil, err
		}
		sess.snapshot = snapshot
		go s.pump(chatID, sess, frames)
	} else {
		s.mu.Unlock()
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		// The session died between lookup and attach; retry with a fresh one.
		s.drop(chatID, sess)
		return nil, fmt.Errorf("subscription to chat %s closed, retry", chatID)
	}
	sess.refs++
	id := sess.nextID
	sess.nextID++
	sink := make(chan Event, 64)
	sess.sinks[id] = sink
	snapshot := sess.snapshot
	sess.mu.Unlock()

	sub := &Subscription{
		Snapshot: snapshot,
		Events:   sink,
	}
	sub.close = func() {
		last := false
		sess.mu.Lock()
		if _, ok := sess.sinks[id]; ok {
			delete(sess.sinks, id)
			close(sink)
			sess.refs--
			last = sess.refs == 0
		}
		sess.mu.Unlock()
		if last {
			sess.cancel()
			s.drop(chatID, sess)
		}
	}

	// The attachment is not tied to ctx; it lives until Close or the
	// underlying connection drops.
	_ = ctx
	return sub, nil
}

func (s *Sessions) drop(chatID string, sess *session) {
	s.mu.Lock()
	if s.active[chatID] == sess {
		delete(s.active, chatID)
	}
	s.mu.Unlock()
}

// pump fans connection frames out to every attached viewer, then closes
// all sinks when the connection ends.
func (s *Sessions) pump(chatID string, sess *session, frames <-chan wsFrame) {
	for frame := range frames {
		if frame.Event == nil {
			continue
		}
		sess.mu.Lock()
		for _, sink := range sess.sinks {
			select {
			case sink <- *frame.Event:
			default:
				// Slow viewer: drop rather than stall the whole session.
			}
		}
		sess.mu.Unlock()
	}

	sess.mu.Lock()
	sess.closed = true
	for id, sink := range sess.sinks {
		delete(sess.sinks, id)
		close(sink)
	}
	sess.refs = 0
	sess.mu.Unlock()
	sess.cancel()
	s.drop(chatID, sess)
}

// dialSubscribe opens the WebSocket, waits for the snapshot frame and
// returns a channel of subsequent frames.
func (c *Client) dialSubscribe(ctx context.Context, chatID string) (*View, <-chan wsFrame, error) {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	u, err := url.Parse(wsURL + "/api/chats/" + chatID + "/subscribe")
	if err != nil {
		return nil, nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("websocket connect: %w", err)
	}

	var first wsFrame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}
	if first.Type != "snapshot" || first.View == nil {
		conn.Close()
		return nil, nil, fmt.Errorf("expected snapshot frame, got %q", first.Type)
	}

	frames := make(chan wsFrame)
	go func() {
		defer close(frames)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame wsFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return first.View, frames, nil
}
