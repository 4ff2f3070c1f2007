package artifactcache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/privrollup/walletd/internal/core/ports"
	inmemorycache "github.com/privrollup/walletd/internal/infrastructure/artifact-cache/inmemory"
	rediscache "github.com/privrollup/walletd/internal/infrastructure/artifact-cache/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestArtifactCache(t *testing.T) {
	caches := map[string]func(t *testing.T) ports.ArtifactCache{
		"inmemory": func(t *testing.T) ports.ArtifactCache {
			c, err := inmemorycache.NewCache(time.Minute)
			require.NoError(t, err)
			return c
		},
	}
	if url := os.Getenv("WALLETD_TEST_REDIS_URL"); url != "" {
		caches["redis"] = func(t *testing.T) ports.ArtifactCache {
			opts, err := redis.ParseURL(url)
			require.NoError(t, err)
			return rediscache.NewCache(redis.NewClient(opts), time.Minute)
		}
	}

	for name, newCache := range caches {
		t.Run(name, func(t *testing.T) {
			cache := newCache(t)
			defer cache.Close()
			ctx := context.Background()

			value, err := cache.Get(ctx, "missing")
			require.NoError(t, err)
			require.Nil(t, value)

			key := make([]byte, 1<<20)
			for i := range key {
				key[i] = byte(i)
			}
			require.NoError(t, cache.Set(ctx, "proving-key:join-split", key))

			value, err = cache.Get(ctx, "proving-key:join-split")
			require.NoError(t, err)
			require.Equal(t, key, value)
		})
	}
}
