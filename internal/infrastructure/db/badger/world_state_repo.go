package badgerdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const (
	worldStateStoreDir = "world-state"
	worldStateKey      = "world-state"
)

type worldStateRepository struct {
	store *badgerhold.Store
}

func NewWorldStateRepository(config ...interface{}) (domain.WorldStateRepository, error) {
	store, err := openStore(worldStateStoreDir, config...)
	if err != nil {
		return nil, fmt.Errorf("failed to open world state store: %s", err)
	}
	return &worldStateRepository{store}, nil
}

func (r *worldStateRepository) Get(ctx context.Context) (*domain.WorldState, error) {
	var state domain.WorldState
	found, err := get(ctx, r.store, worldStateKey, &state)
	if err != nil {
		return nil, fmt.Errorf("failed to get world state: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &state, nil
}

func (r *worldStateRepository) Upsert(ctx context.Context, state domain.WorldState) error {
	return upsert(ctx, r.store, worldStateKey, &state)
}

func (r *worldStateRepository) Clear(ctx context.Context) error {
	var state domain.WorldState
	if err := r.store.Delete(worldStateKey, &state); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (r *worldStateRepository) Close() {
	// nolint:all
	r.store.Close()
}
