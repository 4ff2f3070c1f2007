package redislocker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/privrollup/walletd/internal/core/ports"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	keyPrefix         = "walletd:lock:"
	defaultTTL        = 30 * time.Second
	defaultRetryDelay = 100 * time.Millisecond
)

// Deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Extends the key ttl only if it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// locker is a named lock shared by every process using the same redis
// instance. Held locks are refreshed until released, so a crashed holder
// frees the lock after ttl.
type locker struct {
	rdb        *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
}

func NewLocker(rdb *redis.Client, ttl, retryDelay time.Duration) ports.Locker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &locker{rdb, ttl, retryDelay}
}

func (l *locker) Lock(ctx context.Context, name string) (ports.Guard, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", name, ctx.Err())
		case <-time.After(l.retryDelay):
		}
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	g := &guard{
		rdb:    l.rdb,
		key:    key,
		token:  token,
		cancel: cancel,
		once:   &sync.Once{},
		done:   make(chan struct{}),
	}
	go g.keepAlive(refreshCtx, l.ttl)
	return g, nil
}

func (l *locker) Close() error {
	return l.rdb.Close()
}

type guard struct {
	rdb    *redis.Client
	key    string
	token  string
	cancel context.CancelFunc
	once   *sync.Once
	done   chan struct{}
}

func (g *guard) keepAlive(ctx context.Context, ttl time.Duration) {
	defer close(g.done)

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refreshScript.Run(
				ctx, g.rdb, []string{g.key}, g.token, ttl.Milliseconds(),
			).Int64()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.WithError(err).Warnf("failed to refresh lock %s", g.key)
				}
				continue
			}
			if n == 0 {
				log.Warnf("lock %s lost", g.key)
				return
			}
		}
	}
}

func (g *guard) Unlock(ctx context.Context) error {
	var err error
	released := false
	g.once.Do(func() {
		released = true
		g.cancel()
		<-g.done
		err = releaseScript.Run(ctx, g.rdb, []string{g.key}, g.token).Err()
	})
	if !released {
		return fmt.Errorf("lock already released")
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", g.key, err)
	}
	return nil
}
