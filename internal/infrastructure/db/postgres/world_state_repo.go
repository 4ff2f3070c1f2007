package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/infrastructure/db/postgres/sqlc/queries"
)

type worldStateRepository struct {
	db      *sql.DB
	querier *queries.Queries
}

func NewWorldStateRepository(config ...interface{}) (domain.WorldStateRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open world state repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &worldStateRepository{
		db:      db,
		querier: queries.New(db),
	}, nil
}

func (r *worldStateRepository) Get(ctx context.Context) (*domain.WorldState, error) {
	state, err := r.querier.SelectWorldState(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get world state: %w", err)
	}

	return &domain.WorldState{
		Root:          state.Root,
		Size:          uint64(state.Size),
		SyncedToBlock: state.SyncedToBlock,
		UpdatedAt:     state.UpdatedAt,
	}, nil
}

func (r *worldStateRepository) Upsert(ctx context.Context, state domain.WorldState) error {
	return r.querier.UpsertWorldState(ctx, queries.UpsertWorldStateParams{
		Root:          state.Root,
		Size:          int64(state.Size),
		SyncedToBlock: state.SyncedToBlock,
		UpdatedAt:     state.UpdatedAt,
	})
}

func (r *worldStateRepository) Clear(ctx context.Context) error {
	return r.querier.ClearWorldState(ctx)
}

func (r *worldStateRepository) Close() {
	_ = r.db.Close()
}
