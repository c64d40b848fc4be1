package sunat

import (
	"context"
	"sync"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	CircuitBreakerClosed   CircuitBreakerState = iota // Normal operation
	CircuitBreakerOpen                                // Calls fail fast
	CircuitBreakerHalfOpen                            // One trial request allowed through
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops outbound calls to billService after consecutive
// server-side failures. Client-side faults never trip it.
type CircuitBreaker struct {
	maxFailures    int
	cooldownPeriod time.Duration
	now            func() time.Time

	mu              sync.RWMutex
	state           CircuitBreakerState
	failureCount    int
	totalRequests   int
	totalFailures   int
	lastStateChange time.Time
}

// NewCircuitBreaker creates a breaker that opens after maxFailures consecutive
// failures and allows a trial request after cooldownPeriod.
func NewCircuitBreaker(maxFailures int, cooldownPeriod time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldownPeriod <= 0 {
		cooldownPeriod = 30 * time.Second
	}
	return &CircuitBreaker{
		maxFailures:    maxFailures,
		cooldownPeriod: cooldownPeriod,
		now:            time.Now,
		state:          CircuitBreakerClosed,
	}
}

// Allow reports whether a call would currently be let through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state != CircuitBreakerOpen || cb.now().Sub(cb.lastStateChange) >= cb.cooldownPeriod
}

// Execute runs fn unless the circuit is open. A non-nil error from fn counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cb.mu.Lock()
	if cb.state == CircuitBreakerOpen {
		if cb.now().Sub(cb.lastStateChange) < cb.cooldownPeriod {
			cb.mu.Unlock()
			return ErrCircuitBreakerOpen
		}
		cb.state = CircuitBreakerHalfOpen
		cb.lastStateChange = cb.now()
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	if err != nil {
		cb.totalFailures++
		cb.failureCount++
		if cb.state == CircuitBreakerHalfOpen || cb.failureCount >= cb.maxFailures {
			cb.state = CircuitBreakerOpen
			cb.lastStateChange = cb.now()
		}
		return err
	}

	cb.failureCount = 0
	if cb.state == CircuitBreakerHalfOpen {
		cb.state = CircuitBreakerClosed
		cb.lastStateChange = cb.now()
	}
	return nil
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// CircuitBreakerStats is a point-in-time view of the breaker.
type CircuitBreakerStats struct {
	State               CircuitBreakerState
	ConsecutiveFailures int
	TotalRequests       int
	TotalFailures       int
}

// Stats returns current circuit breaker statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return CircuitBreakerStats{
		State:               cb.state,
		ConsecutiveFailures: cb.failureCount,
		TotalRequests:       cb.totalRequests,
		TotalFailures:       cb.totalFailures,
	}
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitBreakerClosed
	cb.failureCount = 0
	cb.lastStateChange = cb.now()
}

var (
	// ErrCircuitBreakerOpen is returned when circuit breaker is open
	ErrCircuitBreakerOpen = &CircuitBreakerError{Message: "circuit breaker is open"}
)

// CircuitBreakerError represents a circuit breaker error
type CircuitBreakerError struct {
	Message string
}

func (e *CircuitBreakerError) Error() string {
	return e.Message
}
