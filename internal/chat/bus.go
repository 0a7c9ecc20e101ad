package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic returns the bus topic carrying a chat's events.
func Topic(chatID string) string {
	return "chat.events." + chatID
}

// Bus fans stream events out to every subscriber of a chat. In-process
// pub/sub; subscribers that attach mid-stream receive events from that
// point on and recover earlier state from a store snapshot.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// NewBus creates the event bus. The logger may be nil.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, watermill.NewSlogLogger(log))
	return &Bus{pubsub: pubsub, logger: log}
}

// Publish delivers an event to every current subscriber of its chat.
// Delivery is best effort; persistence lives in the store, not the bus.
func (b *Bus) Publish(ev StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal stream event", "error", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(Topic(ev.ChatID), msg); err != nil {
		b.logger.Error("publish stream event", "chat_id", ev.ChatID, "error", err)
	}
}

// Subscribe returns a channel of events for one chat. The channel closes
// when ctx is cancelled or the bus shuts down.
func (b *Bus) Subscribe(ctx context.Context, chatID string) (<-chan StreamEvent, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic(chatID))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev StreamEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Error("unmarshal stream event", "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
