package ports

import "context"

// Guard is a held lock. Unlock must be called exactly once.
type Guard interface {
	Unlock(ctx context.Context) error
}

// Locker hands out named locks shared by every context using the same
// backend.
type Locker interface {
	Lock(ctx context.Context, name string) (Guard, error)
	Close() error
}
