package ai

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, block requests until cooldown
	CircuitHalfOpen                     // Cooldown elapsed, a single probe is in flight
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker refuses an attempt
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the persisted form of a circuit breaker
type BreakerState struct {
	IsOpen              bool      `json:"is_open"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure"`
}

// CircuitBreaker stops calls to the reasoning boundary after repeated failures.
//
// closed -> open after maxFailures consecutive failures. While open, attempts
// are refused (without counting as failures) until cooldown has elapsed since
// the last failure; then exactly one probe is let through. A successful probe
// closes the circuit and resets the failure count, a failed one reopens it.
type CircuitBreaker struct {
	mu sync.Mutex

	state           CircuitState
	failureCount    int
	lastFailureTime time.Time
	maxFailures     int
	cooldown        time.Duration

	now    func() time.Time
	logger *slog.Logger
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(maxFailures int, cooldown time.Duration, logger *slog.Logger) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		state:       CircuitClosed,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		logger:      logger,
	}
}

// SetClock replaces the time source (tests)
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// Allow reserves an attempt. It returns ErrCircuitOpen while the circuit is
// open and cooling down, or while a recovery probe is already in flight.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.cooldown {
			cb.transitionTo(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen

	default:
		// Half-open: only the single probe may run
		return ErrCircuitOpen
	}
}

// IsOpen reports whether an attempt made now would be refused. It does not
// change state, so the escalation controller can consult it freely.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		return cb.now().Sub(cb.lastFailureTime) < cb.cooldown
	case CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call; the failure count resets to zero
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state != CircuitClosed {
		cb.transitionTo(CircuitClosed)
	}
}

// RecordFailure records a failed call (timeout, transport, invalid response)
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Failed probe goes straight back to open
		cb.transitionTo(CircuitOpen)
	}
}

// GetState returns the current state (for testing/monitoring)
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetMetrics returns current metrics (for monitoring/logging)
func (cb *CircuitBreaker) GetMetrics() (state CircuitState, failures int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failureCount
}

// Snapshot returns the persistable state. A half-open breaker is saved as
// open so an abandoned probe never leaves the circuit stuck half-open.
func (cb *CircuitBreaker) Snapshot() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerState{
		IsOpen:              cb.state != CircuitClosed,
		ConsecutiveFailures: cb.failureCount,
		LastFailure:         cb.lastFailureTime,
	}
}

// Restore loads a persisted state
func (cb *CircuitBreaker) Restore(s BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = s.ConsecutiveFailures
	cb.lastFailureTime = s.LastFailure
	cb.state = CircuitClosed
	if s.IsOpen {
		cb.state = CircuitOpen
	}
}

// transitionTo changes state (must be called with lock held)
func (cb *CircuitBreaker) transitionTo(next CircuitState) {
	prev := cb.state
	cb.state = next
	cb.logger.Debug("circuit breaker state transition",
		"from", prev.String(), "to", next.String(),
		"failures", cb.failureCount, "cooldown", cb.cooldown)
}
