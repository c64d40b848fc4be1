package memory

import (
	"context"
	"sync"
	"time"

	"3tcapital/ms_facturacion_sunat/internal/core/lock"
)

type holder struct {
	token     uint64
	expiresAt time.Time
}

// Locker is an in-process lock.Locker for single-instance deployments and tests.
type Locker struct {
	mu   sync.Mutex
	held map[string]holder
	next uint64
	now  func() time.Time
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]holder), now: time.Now}
}

// Acquire takes key for ttl. It returns lock.ErrLocked while another lease is live.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expiresAt) {
		return nil, lock.ErrLocked
	}

	l.next++
	l.held[key] = holder{token: l.next, expiresAt: now.Add(ttl)}
	return &lease{locker: l, key: key, token: l.next}, nil
}

type lease struct {
	locker *Locker
	key    string
	token  uint64
}

// Extend renews the expiry. It fails with lock.ErrLost once another lease
// took the key or the lease was released.
func (le *lease) Extend(ctx context.Context, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	le.locker.mu.Lock()
	defer le.locker.mu.Unlock()

	h, ok := le.locker.held[le.key]
	if !ok || h.token != le.token {
		return lock.ErrLost
	}
	h.expiresAt = le.locker.now().Add(ttl)
	le.locker.held[le.key] = h
	return nil
}

// Release frees the key if this lease still owns it.
func (le *lease) Release(context.Context) error {
	le.locker.mu.Lock()
	defer le.locker.mu.Unlock()

	if h, ok := le.locker.held[le.key]; ok && h.token == le.token {
		delete(le.locker.held, le.key)
	}
	return nil
}
