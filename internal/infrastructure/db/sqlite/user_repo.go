package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/infrastructure/db/sqlite/sqlc/queries"
)

type userRepository struct {
	db      *sql.DB
	querier *queries.Queries
}

func NewUserRepository(config ...interface{}) (domain.UserRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open user repository: invalid config, expected db at 0")
	}

	return &userRepository{
		db:      db,
		querier: queries.New(db),
	}, nil
}

func (r *userRepository) AddUser(ctx context.Context, user domain.User) error {
	if err := r.querier.InsertUser(ctx, queries.InsertUserParams{
		ID:                string(user.Id),
		ViewingPublicKey:  user.ViewingPublicKey,
		ViewingPrivateKey: user.ViewingPrivateKey,
		SpendingPublicKey: user.SpendingPublicKey,
		Alias:             user.Alias,
		AccountRequired:   user.AccountRequired,
		SyncedToBlock:     user.SyncedToBlock,
		CreatedAt:         user.CreatedAt,
	}); err != nil {
		return fmt.Errorf("failed to add user %s: %w", user.Id, err)
	}
	return nil
}

func (r *userRepository) UpdateUser(ctx context.Context, user domain.User) error {
	n, err := r.querier.UpdateUser(ctx, queries.UpdateUserParams{
		ViewingPublicKey:  user.ViewingPublicKey,
		ViewingPrivateKey: user.ViewingPrivateKey,
		SpendingPublicKey: user.SpendingPublicKey,
		Alias:             user.Alias,
		AccountRequired:   user.AccountRequired,
		SyncedToBlock:     user.SyncedToBlock,
		ID:                string(user.Id),
	})
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.Id, err)
	}
	if n == 0 {
		return fmt.Errorf("user %s not found", user.Id)
	}
	return nil
}

func (r *userRepository) GetUser(ctx context.Context, id domain.UserId) (*domain.User, error) {
	row, err := r.querier.SelectUser(ctx, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user := toUser(row)
	return &user, nil
}

func (r *userRepository) GetUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.querier.SelectUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	users := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, toUser(row))
	}
	return users, nil
}

func (r *userRepository) RemoveUser(ctx context.Context, id domain.UserId) error {
	return r.querier.DeleteUser(ctx, string(id))
}

func (r *userRepository) Close() {
	_ = r.db.Close()
}

func toUser(row queries.WalletUser) domain.User {
	return domain.User{
		Id:                domain.UserId(row.ID),
		ViewingPublicKey:  row.ViewingPublicKey,
		ViewingPrivateKey: row.ViewingPrivateKey,
		SpendingPublicKey: row.SpendingPublicKey,
		Alias:             row.Alias,
		AccountRequired:   row.AccountRequired,
		SyncedToBlock:     row.SyncedToBlock,
		CreatedAt:         row.CreatedAt,
	}
}
