package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return StreamEvent{}
	}
}

func TestBusFansOutPerChat(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1, err := bus.Subscribe(ctx, "chat-a")
	require.NoError(t, err)
	sub2, err := bus.Subscribe(ctx, "chat-a")
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, "chat-b")
	require.NoError(t, err)

	bus.Publish(StreamEvent{Type: EventText, ChatID: "chat-a", MessageID: "m1", Text: "hello"})

	for _, ch := range []<-chan StreamEvent{sub1, sub2} {
		ev := recvEvent(t, ch)
		assert.Equal(t, EventText, ev.Type)
		assert.Equal(t, "chat-a", ev.ChatID)
		assert.Equal(t, "m1", ev.MessageID)
		assert.Equal(t, "hello", ev.Text)
	}

	select {
	case ev := <-other:
		t.Fatalf("chat-b subscriber received foreign event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusSubscriberClosesOnCancel(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, "chat-a")
	require.NoError(t, err)

	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscriber channel did not close after cancel")
		}
	}
}

func TestBusEventOrderPreserved(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, "chat-a")
	require.NoError(t, err)

	bus.Publish(StreamEvent{Type: EventHead, ChatID: "chat-a", MessageID: "m1", Path: []string{"m1"}})
	bus.Publish(StreamEvent{Type: EventText, ChatID: "chat-a", MessageID: "m1", Text: "a"})
	bus.Publish(StreamEvent{Type: EventText, ChatID: "chat-a", MessageID: "m1", Text: "b"})
	bus.Publish(StreamEvent{Type: EventDone, ChatID: "chat-a", MessageID: "m1"})

	var types []EventType
	var text string
	for range 4 {
		ev := recvEvent(t, sub)
		types = append(types, ev.Type)
		text += ev.Text
	}
	assert.Equal(t, []EventType{EventHead, EventText, EventText, EventDone}, types)
	assert.Equal(t, "ab", text)
}
