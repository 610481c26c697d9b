// Package resilience provides the circuit breaker and retry primitives shared
// by the provider pool and the scrape strategies.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen fast-fails all calls until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen allows a single probe call to test recovery.
	CircuitHalfOpen
	// CircuitBlacklisted is permanently open; only Reset clears it.
	CircuitBlacklisted
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitBlacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is
// open or blacklisted.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitConfig controls breaker behavior.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive counted failures before
	// the circuit opens. Default: 5.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a half-open probe
	// is allowed. Default: 30s.
	Cooldown time.Duration

	// ShouldTrip decides whether an error counts toward the threshold. A nil
	// ShouldTrip counts every non-nil error.
	ShouldTrip func(err error) bool

	// IsFatal marks errors that blacklist immediately, bypassing the counter
	// (e.g. rejected credentials). A nil IsFatal never blacklists.
	IsFatal func(err error) bool

	// OnStateChange is called on every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitConfig returns sensible defaults.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Circuit is a three-state circuit breaker (plus a terminal blacklist state)
// guarding one upstream. Transitions are monotonic within a failure window:
// closed → open → half-open, and back to closed only through a successful
// half-open probe.
type Circuit struct {
	cfg CircuitConfig

	mu              sync.Mutex
	state           CircuitState
	failures        int
	lastFailureTime time.Time

	nowFunc func() time.Time // test injection
}

// NewCircuit creates a breaker with the given config.
func NewCircuit(cfg CircuitConfig) *Circuit {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Circuit{cfg: cfg, state: CircuitClosed, nowFunc: time.Now}
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen without calling
// fn when the circuit rejects the call.
func (c *Circuit) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	c.record(err)
	return err
}

// ExecuteVal is Execute preserving a return value.
func ExecuteVal[T any](ctx context.Context, c *Circuit, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	c.record(err)
	return val, err
}

// Allows reports whether a call would currently be admitted, without
// consuming the half-open probe.
func (c *Circuit) Allows() bool {
	return c.State() != CircuitOpen && c.State() != CircuitBlacklisted
}

// State returns the effective state, accounting for cooldown expiry.
func (c *Circuit) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CircuitOpen && c.nowFunc().Sub(c.lastFailureTime) >= c.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return c.state
}

// Failures returns the consecutive counted-failure count.
func (c *Circuit) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Blacklist forces the terminal open state. Used for fatal upstream errors.
func (c *Circuit) Blacklist() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transition(CircuitBlacklisted)
	c.lastFailureTime = c.nowFunc()
}

// Reset forces the circuit back to closed. Manual recovery only.
func (c *Circuit) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transition(CircuitClosed)
	c.failures = 0
}

func (c *Circuit) allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitBlacklisted:
		return ErrCircuitOpen
	case CircuitOpen:
		if c.nowFunc().Sub(c.lastFailureTime) >= c.cfg.Cooldown {
			c.transition(CircuitHalfOpen)
			return nil // admit the probe
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (c *Circuit) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CircuitBlacklisted {
		return
	}

	if err != nil && c.cfg.IsFatal != nil && c.cfg.IsFatal(err) {
		c.transition(CircuitBlacklisted)
		c.lastFailureTime = c.nowFunc()
		return
	}

	shouldTrip := c.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil }
	}

	if err == nil || !shouldTrip(err) {
		// A successful half-open probe closes the circuit.
		if c.state == CircuitHalfOpen {
			c.transition(CircuitClosed)
		}
		c.failures = 0
		return
	}

	c.failures++
	c.lastFailureTime = c.nowFunc()

	switch c.state {
	case CircuitClosed:
		if c.failures >= c.cfg.FailureThreshold {
			c.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// A failed probe reopens the circuit.
		c.transition(CircuitOpen)
	}
}

func (c *Circuit) transition(to CircuitState) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(from, to)
	}
}
