package inmemorylocker

import (
	"context"
	"fmt"
	"sync"

	"github.com/privrollup/walletd/internal/core/ports"
)

// locker hands out named locks shared by every sdk instance of the same
// process.
type locker struct {
	lock   *sync.Mutex
	slots  map[string]chan struct{}
	closed bool
}

func NewLocker() ports.Locker {
	return &locker{
		lock:  &sync.Mutex{},
		slots: make(map[string]chan struct{}),
	}
}

func (l *locker) Lock(ctx context.Context, name string) (ports.Guard, error) {
	slot, err := l.slot(name)
	if err != nil {
		return nil, err
	}

	select {
	case slot <- struct{}{}:
		return &guard{slot: slot, once: &sync.Once{}}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, ctx.Err())
	}
}

func (l *locker) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.closed = true
	return nil
}

func (l *locker) slot(name string) (chan struct{}, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.closed {
		return nil, fmt.Errorf("locker closed")
	}
	slot, ok := l.slots[name]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[name] = slot
	}
	return slot, nil
}

type guard struct {
	slot chan struct{}
	once *sync.Once
}

func (g *guard) Unlock(_ context.Context) error {
	released := false
	g.once.Do(func() {
		<-g.slot
		released = true
	})
	if !released {
		return fmt.Errorf("lock already released")
	}
	return nil
}
