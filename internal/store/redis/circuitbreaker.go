package redis

import (
	"fmt"
	"sync"
	"time"

	"feed-engine/internal/model"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // writes pass through
	StateOpen     State = 1 // writes rejected until the reset timeout elapses
	StateHalfOpen State = 2 // one probe write allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", model.ErrSinkUnavailable)

// BreakerStats is a point-in-time view of a breaker.
type BreakerStats struct {
	State    State
	Failures int // consecutive failures since the last success
	Trips    int // times the breaker has opened
	OpenedAt time.Time
}

// CircuitBreaker guards the Redis sink so a dead server costs one fast error
// per series instead of a dial timeout.
//
// After maxFailures consecutive failures the breaker opens and rejects calls for
// resetTimeout, then lets a single probe through. A successful probe closes it,
// a failed one reopens it.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	stats    BreakerStats
	inflight bool // the half-open probe is running

	// OnStateChange is called with the lock held; it must not call back into
	// the breaker.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{maxFailures: maxFailures, resetTimeout: resetTimeout, now: time.Now}
}

// Execute runs fn unless the breaker rejects the call with ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.allow()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(err, probe)
	return err
}

// allow decides whether a call may run and whether it is the half-open probe.
func (cb *CircuitBreaker) allow() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stats.State {
	case StateClosed:
		return false, nil
	case StateOpen:
		if cb.now().Sub(cb.stats.OpenedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
	}
	if cb.inflight {
		return false, ErrCircuitOpen
	}
	cb.inflight = true
	return true, nil
}

func (cb *CircuitBreaker) record(err error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.inflight = false
	}

	if err == nil {
		cb.stats.Failures = 0
		cb.setState(StateClosed)
		return
	}

	cb.stats.Failures++
	if probe || (cb.stats.State == StateClosed && cb.stats.Failures >= cb.maxFailures) {
		cb.stats.OpenedAt = cb.now()
		if cb.stats.State != StateOpen {
			cb.stats.Trips++
		}
		cb.setState(StateOpen)
	}
}

// Reset forces the breaker closed, e.g. after a successful reconnect.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.inflight = false
	cb.stats.Failures = 0
	cb.setState(StateClosed)
}

// CurrentState returns the current circuit breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats.State
}

// Trips returns how many times the breaker has opened.
func (cb *CircuitBreaker) Trips() int {
	return cb.Stats().Trips
}

// Stats returns a copy of the breaker counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.stats.State
	if from == to {
		return
	}
	cb.stats.State = to
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
