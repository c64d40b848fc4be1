package sunat

import (
	"context"
	"sync"
	"time"
)

// ConcurrentRequestLimiter caps in-flight requests to billService.
type ConcurrentRequestLimiter struct {
	semaphore     chan struct{}
	maxConcurrent int
	mu            sync.RWMutex
	activeCount   int
	waitCount     int64
	totalAcquired int64
}

// NewConcurrentRequestLimiter creates a new concurrency limiter
func NewConcurrentRequestLimiter(maxConcurrent int) *ConcurrentRequestLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &ConcurrentRequestLimiter{
		semaphore:     make(chan struct{}, maxConcurrent),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire blocks until a slot is available or ctx is done.
func (l *ConcurrentRequestLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.waitCount++
	l.mu.Unlock()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.activeCount++
		l.totalAcquired++
		l.waitCount--
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.waitCount--
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Release releases a slot after a request completes
func (l *ConcurrentRequestLimiter) Release() {
	<-l.semaphore
	l.mu.Lock()
	l.activeCount--
	l.mu.Unlock()
}

// LimiterStats is a point-in-time view of the limiter.
type LimiterStats struct {
	MaxConcurrent int
	ActiveCount   int
	WaitCount     int64
	TotalAcquired int64
	Available     int
}

// Stats returns current statistics
func (l *ConcurrentRequestLimiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LimiterStats{
		MaxConcurrent: l.maxConcurrent,
		ActiveCount:   l.activeCount,
		WaitCount:     l.waitCount,
		TotalAcquired: l.totalAcquired,
		Available:     l.maxConcurrent - l.activeCount,
	}
}

// RateLimiter implements a token bucket rate limiter
type RateLimiter struct {
	tokens       chan struct{}
	refillTicker *time.Ticker
	done         chan struct{}
	rate         int
	closeOnce    sync.Once
}

// NewRateLimiter creates a limiter allowing rate requests per second.
func NewRateLimiter(rate int) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}

	rl := &RateLimiter{
		tokens: make(chan struct{}, rate),
		done:   make(chan struct{}),
		rate:   rate,
	}
	for i := 0; i < rate; i++ {
		rl.tokens <- struct{}{}
	}

	rl.refillTicker = time.NewTicker(time.Second / time.Duration(rate))
	go rl.refill()

	return rl
}

func (rl *RateLimiter) refill() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.refillTicker.C:
			select {
			case rl.tokens <- struct{}{}:
			default:
				// Bucket is full
			}
		}
	}
}

// Acquire takes a token, waiting for a refill if needed.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-rl.tokens:
		return nil
	case <-rl.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rate returns the configured rate limit (requests per second)
func (rl *RateLimiter) Rate() int {
	return rl.rate
}

// Close stops the refill goroutine. Acquire no longer blocks afterwards.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		rl.refillTicker.Stop()
		close(rl.done)
	})
}
