package acp

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is one of the three states of the breaker (spec §4.4).
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

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

// ErrCircuitOpen is returned by Call when the breaker is OPEN and the
// reopen deadline has not yet elapsed (spec §4.4).
var ErrCircuitOpen = errors.New("acp: circuit breaker open")

// CircuitBreakerConfig holds the tunable thresholds (spec §4.4 defaults).
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	MonitoringWindow time.Duration
}

// DefaultCircuitBreakerConfig returns the spec's tuned defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 8,
		SuccessThreshold: 3,
		OpenTimeout:      10 * time.Second,
		MonitoringWindow: 120 * time.Second,
	}
}

// CircuitBreaker is a three-state failure detector wrapping calls to the
// backend agent (spec §4.4). Safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu           sync.Mutex
	state        CircuitState
	failures     int
	successes    int
	reopenAt     time.Time
	lastFailure  time.Time
	now          func() time.Time // overridable for tests
}

// NewCircuitBreaker builds a breaker starting in CLOSED state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// State reports the current state (test/diagnostics hook).
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call admits fn through the breaker. In OPEN state (before the reopen
// deadline) it fails fast with ErrCircuitOpen without invoking fn.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	b.record(err == nil)
	return err
}

func (b *CircuitBreaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.decayLocked()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.reopenAt) {
			return false
		}
		b.state = StateHalfOpen
		b.successes = 0
		return true
	default:
		return true
	}
}

func (b *CircuitBreaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case StateHalfOpen:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.state = StateClosed
				b.failures = 0
				b.successes = 0
			}
		case StateClosed:
			if b.failures > 0 {
				b.failures--
			}
		}
		return
	}

	b.lastFailure = b.now()
	switch b.state {
	case StateHalfOpen:
		b.openLocked()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	}
}

func (b *CircuitBreaker) openLocked() {
	b.state = StateOpen
	b.reopenAt = b.now().Add(b.cfg.OpenTimeout)
	b.failures = 0
	b.successes = 0
}

// decayLocked drops one accumulated failure if the last one aged out of the
// monitoring window, called on every admission check (spec §4.4).
func (b *CircuitBreaker) decayLocked() {
	if b.state != StateClosed || b.failures == 0 {
		return
	}
	if b.cfg.MonitoringWindow <= 0 {
		return
	}
	if b.now().Sub(b.lastFailure) > b.cfg.MonitoringWindow {
		b.failures--
	}
}

// ForceOpen and ForceClosed are test hooks (spec §4.4).
func (b *CircuitBreaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openLocked()
}

func (b *CircuitBreaker) ForceClosed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}
