package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"3tcapital/ms_facturacion_sunat/internal/core/lock"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Locker is a lock.Locker backed by Redis SET NX PX.
type Locker struct {
	client redis.Cmdable
	prefix string
}

// NewLocker creates a Locker whose keys are namespaced under prefix.
func NewLocker(client redis.Cmdable, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Acquire sets the key if absent, with ttl as expiry.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lease, error) {
	token := uuid.NewString()
	full := l.prefix + key

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", full, err)
	}
	if !ok {
		return nil, lock.ErrLocked
	}
	return &lease{client: l.client, key: full, token: token}, nil
}

type lease struct {
	client redis.Cmdable
	key    string
	token  string
}

// Extend resets the key expiry to ttl. It returns lock.ErrLost when the key
// expired or now belongs to another lease.
func (le *lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, le.client, []string{le.key}, le.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", le.key, err)
	}
	if n == 0 {
		return lock.ErrLost
	}
	return nil
}

// Release deletes the key if this lease still owns it.
func (le *lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", le.key, err)
	}
	return nil
}
