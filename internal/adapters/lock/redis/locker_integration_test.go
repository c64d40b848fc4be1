//go:build integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"3tcapital/ms_facturacion_sunat/internal/core/lock"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisLocker(t *testing.T) {
	client := newRedis(t)
	l := NewLocker(client, "sunat:lock:")
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "doc-1", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "doc-1", time.Minute)
	assert.True(t, errors.Is(err, lock.ErrLocked))

	require.NoError(t, lease.Release(ctx))
	again, err := l.Acquire(ctx, "doc-1", time.Minute)
	require.NoError(t, err)

	// A released lease cannot free someone else's lock.
	require.NoError(t, lease.Release(ctx))
	_, err = l.Acquire(ctx, "doc-1", time.Minute)
	assert.True(t, errors.Is(err, lock.ErrLocked))

	require.NoError(t, again.Release(ctx))
}

func TestRedisLockerExpiry(t *testing.T) {
	client := newRedis(t)
	l := NewLocker(client, "sunat:lock:")
	ctx := context.Background()

	_, err := l.Acquire(ctx, "doc-2", 100*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := l.Acquire(ctx, "doc-2", time.Minute)
		return err == nil
	}, 2*time.Second, 50*time.Millisecond)
}

func TestRedisLockerExtend(t *testing.T) {
	client := newRedis(t)
	l := NewLocker(client, "sunat:lock:")
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "doc-3", 200*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, lease.Extend(ctx, time.Minute))

	time.Sleep(400 * time.Millisecond)
	_, err = l.Acquire(ctx, "doc-3", time.Minute)
	assert.True(t, errors.Is(err, lock.ErrLocked), "extended lease should still hold")

	require.NoError(t, lease.Release(ctx))
	assert.True(t, errors.Is(lease.Extend(ctx, time.Minute), lock.ErrLost))
}
