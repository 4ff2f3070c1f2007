package domain

import "context"

type WorldStateRepository interface {
	Get(ctx context.Context) (*WorldState, error)
	Upsert(ctx context.Context, state WorldState) error
	Clear(ctx context.Context) error
	Close()
}
