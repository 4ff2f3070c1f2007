package locker_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/privrollup/walletd/internal/core/ports"
	inmemorylocker "github.com/privrollup/walletd/internal/infrastructure/locker/inmemory"
	redislocker "github.com/privrollup/walletd/internal/infrastructure/locker/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLocker(t *testing.T) {
	lockers := map[string]func(t *testing.T) ports.Locker{
		"inmemory": func(t *testing.T) ports.Locker {
			return inmemorylocker.NewLocker()
		},
	}
	if url := os.Getenv("WALLETD_TEST_REDIS_URL"); url != "" {
		lockers["redis"] = func(t *testing.T) ports.Locker {
			opts, err := redis.ParseURL(url)
			require.NoError(t, err)
			return redislocker.NewLocker(redis.NewClient(opts), time.Second, 10*time.Millisecond)
		}
	}

	for name, newLocker := range lockers {
		t.Run(name, func(t *testing.T) {
			t.Run("mutual exclusion", func(t *testing.T) {
				locker := newLocker(t)
				defer locker.Close()

				ctx := context.Background()
				var inside, maxInside int32
				wg := &sync.WaitGroup{}
				for range 8 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						guard, err := locker.Lock(ctx, "test")
						require.NoError(t, err)
						n := atomic.AddInt32(&inside, 1)
						for {
							m := atomic.LoadInt32(&maxInside)
							if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
								break
							}
						}
						time.Sleep(5 * time.Millisecond)
						atomic.AddInt32(&inside, -1)
						require.NoError(t, guard.Unlock(ctx))
					}()
				}
				wg.Wait()
				require.Equal(t, int32(1), maxInside)
			})

			t.Run("names are independent", func(t *testing.T) {
				locker := newLocker(t)
				defer locker.Close()

				ctx := context.Background()
				a, err := locker.Lock(ctx, "a")
				require.NoError(t, err)
				b, err := locker.Lock(ctx, "b")
				require.NoError(t, err)
				require.NoError(t, a.Unlock(ctx))
				require.NoError(t, b.Unlock(ctx))
			})

			t.Run("context cancellation", func(t *testing.T) {
				locker := newLocker(t)
				defer locker.Close()

				guard, err := locker.Lock(context.Background(), "busy")
				require.NoError(t, err)

				ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
				defer cancel()
				_, err = locker.Lock(ctx, "busy")
				require.Error(t, err)

				require.NoError(t, guard.Unlock(context.Background()))
				require.Error(t, guard.Unlock(context.Background()))

				guard, err = locker.Lock(context.Background(), "busy")
				require.NoError(t, err)
				require.NoError(t, guard.Unlock(context.Background()))
			})
		})
	}
}
