package searchbase

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Circuit breaker states
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// Default breaker settings used by the store for index operations
const (
	DefaultBreakerFailures = 5
	DefaultBreakerReset    = 30 * time.Second
)

// CircuitBreaker stops calling a failing dependency for a while.
//
// States:
//   - closed: calls pass through
//   - open: calls fail fast with ErrCircuitOpen
//   - half-open: the reset timeout elapsed, one success closes the breaker
//
// The store wraps every index write and search in a breaker so that an
// unavailable search module does not add a round trip to each merge.
type CircuitBreaker struct {
	mu            sync.RWMutex
	maxFailures   int
	resetTimeout  time.Duration
	failures      int
	lastFailTime  time.Time
	state         string
	now           func() time.Time
	onStateChange func(from, to string)
}

// NewCircuitBreaker creates a breaker that opens after maxFailures
// consecutive failures and half-opens after resetTimeout.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = DefaultBreakerFailures
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		now:          time.Now,
	}
}

// WithStateChangeCallback adds a callback for state transitions.
// The callback runs with the breaker locked and must not call back into it.
func (cb *CircuitBreaker) WithStateChangeCallback(fn func(from, to string)) *CircuitBreaker {
	cb.onStateChange = fn
	return cb
}

// Execute runs fn unless the breaker is open.
// Context cancellation is not counted as a dependency failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return WithContext(ErrCircuitOpen, map[string]interface{}{
			"state":    cb.State(),
			"failures": cb.Failures(),
		})
	}

	err := fn()
	if err != nil && ctx.Err() != nil {
		return err
	}
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailTime) > cb.resetTimeout {
			cb.setState(CircuitHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		if !countsAsFailure(err) {
			return
		}
		cb.failures++
		cb.lastFailTime = cb.now()
		if cb.state == CircuitHalfOpen || (cb.failures >= cb.maxFailures && cb.state != CircuitOpen) {
			cb.setState(CircuitOpen)
		}
		return
	}

	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.setState(CircuitClosed)
	}
}

// countsAsFailure filters out errors caused by the caller's input. A
// duplicate document or a bad query says nothing about index health.
func countsAsFailure(err error) bool {
	return !IsNotFound(err) &&
		!errors.Is(err, ErrDocumentExists) &&
		!errors.Is(err, ErrInvalidQuery)
}

func (cb *CircuitBreaker) setState(newState string) {
	oldState := cb.state
	cb.state = newState
	if cb.onStateChange != nil && oldState != newState {
		cb.onStateChange(oldState, newState)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset closes the breaker and clears the failure count
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(CircuitClosed)
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}
