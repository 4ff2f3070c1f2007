package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/privrollup/walletd/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "walletd:artifact:"

// cache shares artifacts among every sdk instance pointing at the same
// redis, so that proving keys are computed once.
type cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache returns a redis backed cache. A zero ttl keeps entries forever.
func NewCache(rdb *redis.Client, ttl time.Duration) ports.ArtifactCache {
	return &cache{rdb, ttl}
}

func (c *cache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (c *cache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.rdb.Set(ctx, keyPrefix+key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (c *cache) Close() error {
	return c.rdb.Close()
}
