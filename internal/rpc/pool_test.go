package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("not found")

func newTestPool(t *testing.T, urls ...string) *Pool[string] {
	t.Helper()
	pool, err := NewPool("eth", urls, func(u string) (string, error) { return u, nil }, Options{
		RateLimit: 1000,
		Burst:     1000,
		Timeout:   time.Second,
		IsBenign:  func(err error) bool { return errors.Is(err, errMissing) },
	}, zerolog.Nop())
	require.NoError(t, err)
	return pool
}

func TestNewPool(t *testing.T) {
	_, err := NewPool("eth", nil, func(u string) (string, error) { return u, nil }, Options{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoEndpoints)

	_, err = NewPool("eth", []string{"https://a.example"}, func(u string) (string, error) {
		return "", errors.New("bad url")
	}, Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestPool_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("round robin", func(t *testing.T) {
		pool := newTestPool(t, "https://a.example", "https://b.example")
		seen := map[string]int{}
		for i := 0; i < 4; i++ {
			require.NoError(t, pool.Do(ctx, "head", func(ctx context.Context, client string) error {
				seen[client]++
				return nil
			}))
		}
		assert.Equal(t, 2, seen["https://a.example"])
		assert.Equal(t, 2, seen["https://b.example"])
	})

	t.Run("fails over once and takes the endpoint out", func(t *testing.T) {
		pool := newTestPool(t, "https://a.example", "https://b.example")
		var calls []string
		err := pool.Do(ctx, "head", func(ctx context.Context, client string) error {
			calls = append(calls, client)
			if len(calls) == 1 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		require.Len(t, calls, 2)
		assert.NotEqual(t, calls[0], calls[1])
		assert.Equal(t, 1, pool.HealthyCount())
	})

	t.Run("rate limit sets cooldown", func(t *testing.T) {
		pool := newTestPool(t, "https://a.example")
		err := pool.Do(ctx, "block", func(ctx context.Context, client string) error {
			return errors.New("429 Too Many Requests")
		})
		assert.Error(t, err)

		stats := pool.Stats()
		require.Len(t, stats.Endpoints, 1)
		assert.True(t, stats.Endpoints[0].InCooldown)
		assert.True(t, stats.Endpoints[0].Healthy)
		assert.Equal(t, 0, stats.HealthyEndpoints)
	})

	t.Run("benign errors keep the endpoint healthy", func(t *testing.T) {
		pool := newTestPool(t, "https://a.example", "https://b.example")
		calls := 0
		err := pool.Do(ctx, "tx", func(ctx context.Context, client string) error {
			calls++
			return errMissing
		})
		assert.ErrorIs(t, err, errMissing)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 2, pool.HealthyCount())
	})

	t.Run("cancelled context", func(t *testing.T) {
		pool := newTestPool(t, "https://a.example")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := pool.Do(cctx, "head", func(ctx context.Context, client string) error {
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://eth-mainnet.example", redact("https://eth-mainnet.example/v2/secret-key?x=1"))
	assert.Equal(t, "invalid-endpoint", redact("not a url"))
}
