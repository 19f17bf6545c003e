package token

import (
	"errors"
	"sync"
	"time"

	"github.com/stwalsh4118/airwave/internal/clock"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// StateClosed lets probes through
	StateClosed CircuitState = iota
	// StateOpen short-circuits probes to the base URL
	StateOpen
	// StateHalfOpen lets one probe test whether the provider recovered
	StateHalfOpen
)

// String returns the string representation of CircuitState
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen indicates the provider has failed too often and probes are
// being skipped until the reset timeout passes
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops probing a provider that keeps failing
type CircuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	clock            clock.Clock

	mu              sync.Mutex
	state           CircuitState
	failures        int
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and half-opens after resetTimeout
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, clk clock.Clock) *CircuitBreaker {
	if clk == nil {
		clk = clock.Real{}
	}
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		clock:            clk,
		state:            StateClosed,
	}
}

// Call executes fn if the breaker allows it and records the outcome
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.CanAttempt() {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.recordFailureLocked()
		return err
	}
	cb.recordSuccessLocked()
	return nil
}

// RecordSuccess records a successful probe
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.recordSuccessLocked()
}

// RecordFailure records a failed probe
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.recordFailureLocked()
}

func (cb *CircuitBreaker) recordSuccessLocked() {
	cb.failures = 0
	cb.state = StateClosed
}

func (cb *CircuitBreaker) recordFailureLocked() {
	cb.failures++
	cb.lastFailureTime = cb.clock.Now()

	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
	}
}

// State returns the current state, half-opening an expired open breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.clock.Now().Sub(cb.lastFailureTime) >= cb.resetTimeout {
		cb.state = StateHalfOpen
		cb.failures = 0
	}
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// CanAttempt returns true if a probe may be sent
func (cb *CircuitBreaker) CanAttempt() bool {
	return cb.State() != StateOpen
}

// Reset closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.lastFailureTime = time.Time{}
}
