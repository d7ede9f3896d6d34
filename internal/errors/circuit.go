package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// CircuitBreaker counts consecutive backend failures. Once the count
// reaches the limit the breaker opens; after the cool-down one trial call
// is let through and its outcome decides between closed and open.
//
// The coordinator keeps one per run to tell a flaky file from a backend
// outage.
type CircuitBreaker struct {
	name     string
	limit    int
	cooldown time.Duration

	mu       sync.Mutex
	open     bool
	openedAt time.Time
	failures int
	inTrial  bool
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets how many consecutive failures open the breaker.
// Non-positive values are ignored.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.limit = n
		}
	}
}

// WithResetTimeout sets how long the breaker stays open before letting a trial call through.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.cooldown = d }
}

// NewCircuitBreaker returns a closed breaker that opens after 5 failures
// and retries after 30 seconds.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{name: name, limit: 5, cooldown: 30 * time.Second}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() State {
	switch {
	case !cb.open:
		return StateClosed
	case time.Since(cb.openedAt) >= cb.cooldown:
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Allow reports whether a call would currently be attempted.
func (cb *CircuitBreaker) Allow() bool {
	return cb.State() != StateOpen
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.open, cb.failures, cb.inTrial = false, 0, false
}

// RecordFailure counts a failure and reports whether the breaker is open.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.limit {
		cb.tripLocked()
	}
	return cb.open
}

func (cb *CircuitBreaker) tripLocked() {
	cb.open = true
	cb.openedAt = time.Now()
	cb.inTrial = false
}

// Execute runs fn unless the breaker is open. While half-open only one
// trial call runs at a time; concurrent callers get ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := CircuitExecuteWithResult(cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// CircuitExecuteWithResult is Execute for functions that return a value.
func CircuitExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T

	cb.mu.Lock()
	state := cb.stateLocked()
	if state == StateOpen || (state == StateHalfOpen && cb.inTrial) {
		cb.mu.Unlock()
		return zero, ErrCircuitOpen
	}
	if state == StateHalfOpen {
		cb.inTrial = true
	}
	cb.mu.Unlock()

	v, err := fn()
	if err == nil {
		cb.RecordSuccess()
		return v, nil
	}

	if state == StateHalfOpen {
		// A failed trial restarts the cool-down.
		cb.mu.Lock()
		cb.failures++
		cb.tripLocked()
		cb.mu.Unlock()
	} else {
		cb.RecordFailure()
	}
	return v, err
}
