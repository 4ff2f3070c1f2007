package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const userStoreDir = "users"

type userRepository struct {
	store *badgerhold.Store
}

type userDTO struct {
	domain.User
	UpdatedAt int64
}

func NewUserRepository(config ...interface{}) (domain.UserRepository, error) {
	store, err := openStore(userStoreDir, config...)
	if err != nil {
		return nil, fmt.Errorf("failed to open user store: %s", err)
	}
	return &userRepository{store}, nil
}

func (r *userRepository) AddUser(ctx context.Context, user domain.User) error {
	dto := userDTO{user, time.Now().UnixMilli()}
	err := withRetry(func() error {
		if tx := txFromContext(ctx); tx != nil {
			return r.store.TxInsert(tx, string(user.Id), dto)
		}
		return r.store.Insert(string(user.Id), dto)
	})
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return fmt.Errorf("user %s already exists", user.Id)
	}
	return err
}

func (r *userRepository) UpdateUser(ctx context.Context, user domain.User) error {
	dto := userDTO{user, time.Now().UnixMilli()}
	err := withRetry(func() error {
		if tx := txFromContext(ctx); tx != nil {
			return r.store.TxUpdate(tx, string(user.Id), dto)
		}
		return r.store.Update(string(user.Id), dto)
	})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("user %s not found", user.Id)
	}
	return err
}

func (r *userRepository) GetUser(ctx context.Context, id domain.UserId) (*domain.User, error) {
	var dto userDTO
	found, err := get(ctx, r.store, string(id), &dto)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &dto.User, nil
}

func (r *userRepository) GetUsers(ctx context.Context) ([]domain.User, error) {
	dtos := make([]userDTO, 0)
	if err := find(ctx, r.store, &dtos, nil); err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(dtos))
	for _, dto := range dtos {
		users = append(users, dto.User)
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt < users[j].CreatedAt
	})
	return users, nil
}

func (r *userRepository) RemoveUser(ctx context.Context, id domain.UserId) error {
	err := withRetry(func() error {
		if tx := txFromContext(ctx); tx != nil {
			return r.store.TxDelete(tx, string(id), userDTO{})
		}
		return r.store.Delete(string(id), userDTO{})
	})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	return err
}

func (r *userRepository) Close() {
	// nolint:all
	r.store.Close()
}
