package client

import "strings"

// ThreadView merges three sources into one renderable thread: the
// persisted snapshot, live events and the locally buffered text of the
// message currently streaming. The buffer is never authoritative: once a
// finalized reply arrives for the pending message, the persisted value
// replaces it.
type ThreadView struct {
	view      View
	pendingID string
	text      strings.Builder
	reasoning strings.Builder
	deleted   bool
}

// NewThreadView starts from a subscription snapshot.
func NewThreadView(snapshot *View) *ThreadView {
	t := &ThreadView{}
	if snapshot != nil {
		t.view = *snapshot
	}
	return t
}

// Apply folds one event into the view.
func (t *ThreadView) Apply(ev Event) {
	switch ev.Type {
	case EventHead:
		t.pendingID = ev.MessageID
		t.text.Reset()
		t.reasoning.Reset()
		t.view.Thread = append(t.view.Thread, Message{
			ID:     ev.MessageID,
			ChatID: ev.ChatID,
			Path:   ev.Path,
		})

	case EventText:
		t.text.WriteString(ev.Text)

	case EventReasoning:
		t.reasoning.WriteString(ev.Reasoning)

	case EventReply:
		for i := range t.view.Thread {
			if t.view.Thread[i].ID == ev.MessageID {
				t.view.Thread[i].Reply = ev.Reply
				break
			}
		}
		if ev.MessageID == t.pendingID {
			t.pendingID = ""
			t.text.Reset()
			t.reasoning.Reset()
		}

	case EventChatDeleted:
		t.deleted = true
	}
}

// Thread returns the ordered message list. The last element may be
// pending; its streamed content is available via Streamed.
func (t *ThreadView) Thread() []Message {
	return t.view.Thread
}

// Chat returns the chat document from the snapshot.
func (t *ThreadView) Chat() Chat {
	return t.view.Chat
}

// Pending returns the id of the message currently streaming, or "".
func (t *ThreadView) Pending() string {
	return t.pendingID
}

// Streamed returns the locally buffered text and reasoning of the pending
// message.
func (t *ThreadView) Streamed() (text, reasoning string) {
	return t.text.String(), t.reasoning.String()
}

// Deleted reports whether the chat was deleted while attached.
func (t *ThreadView) Deleted() bool {
	return t.deleted
}
