package watermillbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const outputBufferSize = 64

type eventBus struct {
	pubsub *gochannel.GoChannel
}

// NewEventBus returns an in-process bus, one topic per event type.
func NewEventBus() ports.EventBus {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: outputBufferSize,
	}, newLogger())
	return &eventBus{pubsub}
}

func (b *eventBus) Publish(_ context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.GetType(), err)
	}
	topic := string(event.GetType())
	return b.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload))
}

func (b *eventBus) Subscribe(
	ctx context.Context, eventType domain.EventType,
) (<-chan domain.Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, string(eventType))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
	}

	events := make(chan domain.Event, outputBufferSize)
	go func() {
		defer close(events)
		for msg := range messages {
			// Ack right away, the next message is held back until then.
			msg.Ack()
			event, err := deserializeEvent(eventType, msg.Payload)
			if err != nil {
				log.WithError(err).Warnf("failed to deserialize %s event", eventType)
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (b *eventBus) Close() error {
	return b.pubsub.Close()
}

func deserializeEvent(eventType domain.EventType, buf []byte) (domain.Event, error) {
	switch eventType {
	case domain.EventTypeUpdatedUsers:
		var event = domain.UsersUpdated{}
		if err := json.Unmarshal(buf, &event); err != nil {
			return nil, err
		}
		return event, nil
	case domain.EventTypeNewUserTx:
		var event = domain.NewUserTx{}
		if err := json.Unmarshal(buf, &event); err != nil {
			return nil, err
		}
		return event, nil
	case domain.EventTypeBlockProcessed:
		var event = domain.BlockProcessed{}
		if err := json.Unmarshal(buf, &event); err != nil {
			return nil, err
		}
		return event, nil
	case domain.EventTypeUpdatedBalance:
		var event = domain.BalanceUpdated{}
		if err := json.Unmarshal(buf, &event); err != nil {
			return nil, err
		}
		return event, nil
	}

	return nil, fmt.Errorf("unknown event type %s", eventType)
}
