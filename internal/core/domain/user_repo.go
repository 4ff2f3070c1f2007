package domain

import "context"

type UserRepository interface {
	AddUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id UserId) (*User, error)
	GetUsers(ctx context.Context) ([]User, error)
	RemoveUser(ctx context.Context, id UserId) error
	Close()
}
