package ports

import (
	"context"

	"github.com/privrollup/walletd/internal/core/domain"
)

type EventBus interface {
	Publish(ctx context.Context, event domain.Event) error
	// Subscribe returns a channel of events of the given type. The channel is
	// closed once ctx is done.
	Subscribe(ctx context.Context, eventType domain.EventType) (<-chan domain.Event, error)
	Close() error
}
