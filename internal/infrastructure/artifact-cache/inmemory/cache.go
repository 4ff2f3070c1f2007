package inmemorycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/privrollup/walletd/internal/core/ports"
)

const (
	defaultLifeWindow = 24 * time.Hour
	// Sizing hints only. Few entries are cached, proving keys among them
	// run into megabytes and grow the shards on insert.
	maxEntriesInWindow = 64
	maxEntrySize       = 64 << 10
)

type cache struct {
	cache *bigcache.BigCache
}

// NewCache returns a process local cache. Entries expire after lifeWindow,
// 24h if not set.
func NewCache(lifeWindow time.Duration) (ports.ArtifactCache, error) {
	if lifeWindow <= 0 {
		lifeWindow = defaultLifeWindow
	}
	config := bigcache.DefaultConfig(lifeWindow)
	config.Shards = 16
	config.MaxEntriesInWindow = maxEntriesInWindow
	config.MaxEntrySize = maxEntrySize
	config.CleanWindow = lifeWindow / 4

	c, err := bigcache.New(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &cache{c}, nil
}

func (c *cache) Get(_ context.Context, key string) ([]byte, error) {
	value, err := c.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (c *cache) Set(_ context.Context, key string, value []byte) error {
	return c.cache.Set(key, value)
}

func (c *cache) Close() error {
	return c.cache.Close()
}
