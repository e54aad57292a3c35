package reporting

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pitabwire/clubpulse/internal/config"
)

// BreakerState is the state of the reporting API circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every request through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerHalfOpen lets probe requests through.
	BreakerHalfOpen
	// BreakerOpen rejects requests until the cool-down elapses.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by Allow while the breaker rejects requests.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// minErrorRateSamples is the number of calls a window needs before the error
// rate is considered.
const minErrorRateSamples = 10

// CircuitBreaker trips on consecutive failures or on the error rate within a
// tumbling window. It is safe for concurrent use.
type CircuitBreaker struct {
	mu               sync.Mutex
	clock            clockwork.Clock
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time

	errorRateThreshold float64
	errorRateWindow    time.Duration
	windowStart        time.Time
	windowTotal        int
	windowFailures     int

	onChange func(BreakerState)
}

// NewCircuitBreaker creates a breaker from cfg. Zero values fall back to
// 5 failures, 2 half-open successes and a 30s cool-down; a zero error rate
// threshold or window disables rate-based tripping.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig, clock clockwork.Clock) *CircuitBreaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		clock:              clock,
		state:              BreakerClosed,
		failureThreshold:   cfg.FailureThreshold,
		successThreshold:   cfg.SuccessThreshold,
		cooldown:           cfg.Timeout,
		errorRateThreshold: cfg.ErrorRateThreshold,
		errorRateWindow:    cfg.ErrorRateWindow,
		windowStart:        clock.Now(),
	}
}

// OnStateChange registers fn to be called, with the lock held, whenever the
// breaker changes state. fn must not call back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// Allow returns nil when a request may proceed, ErrBreakerOpen otherwise.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	if cb.state == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.recordWindowCall(false)
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.resetWindow()
			cb.setState(BreakerClosed)
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.recordWindowCall(true)
		if cb.failures >= cb.failureThreshold || cb.errorRateExceeded() {
			cb.trip()
		}
	case BreakerHalfOpen:
		cb.successes = 0
		cb.trip()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// ErrorRate returns the error rate and number of calls in the current window.
func (cb *CircuitBreaker) ErrorRate() (rate float64, total int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeResetWindow()
	if cb.windowTotal == 0 {
		return 0, 0
	}
	return float64(cb.windowFailures) / float64(cb.windowTotal), cb.windowTotal
}

// Must be called with mu held.
func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.clock.Now()
	cb.resetWindow()
	cb.setState(BreakerOpen)
}

// Must be called with mu held.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.clock.Since(cb.openedAt) >= cb.cooldown {
		cb.successes = 0
		cb.setState(BreakerHalfOpen)
	}
}

// Must be called with mu held.
func (cb *CircuitBreaker) setState(s BreakerState) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onChange != nil {
		cb.onChange(s)
	}
}

// Must be called with mu held.
func (cb *CircuitBreaker) recordWindowCall(failure bool) {
	if cb.errorRateWindow <= 0 {
		return
	}
	cb.maybeResetWindow()
	cb.windowTotal++
	if failure {
		cb.windowFailures++
	}
}

// Must be called with mu held.
func (cb *CircuitBreaker) maybeResetWindow() {
	if cb.errorRateWindow <= 0 {
		return
	}
	if cb.clock.Since(cb.windowStart) > cb.errorRateWindow {
		cb.resetWindow()
	}
}

// Must be called with mu held.
func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = cb.clock.Now()
	cb.windowTotal = 0
	cb.windowFailures = 0
}

// Must be called with mu held.
func (cb *CircuitBreaker) errorRateExceeded() bool {
	if cb.errorRateThreshold <= 0 || cb.errorRateWindow <= 0 {
		return false
	}
	if cb.windowTotal < minErrorRateSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowTotal) >= cb.errorRateThreshold
}
