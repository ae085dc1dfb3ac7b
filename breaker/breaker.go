// Package breaker implements the Circuit Breaker: a per-target three-state
// machine (Closed, Open, HalfOpen) providing fault isolation for dispatch to
// agents or pattern kinds.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/coorderr"
)

// State names a circuit breaker's current mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

// Config parameterizes a single target's circuit.
type Config struct {
	FailureThreshold  int
	OpenDuration      time.Duration
	HalfOpenProbeLimit int
	// IdleResetDuration: a target with no activity for longer than this has
	// its counters reset to 0 on its next call, rather than carrying stale
	// failure history into a fresh burst of traffic.
	IdleResetDuration time.Duration
}

// DefaultConfig returns conservative production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		OpenDuration:       60 * time.Second,
		HalfOpenProbeLimit: 3,
		IdleResetDuration:  5 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = d.OpenDuration
	}
	if c.HalfOpenProbeLimit <= 0 {
		c.HalfOpenProbeLimit = d.HalfOpenProbeLimit
	}
	if c.IdleResetDuration <= 0 {
		c.IdleResetDuration = d.IdleResetDuration
	}
}

// circuit is one target's state.
type circuit struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	halfOpenCalls   int
	lastChange      time.Time
	lastActivity    time.Time
}

// Breaker manages one circuit per target (agent id or pattern kind),
// keyed by target name.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   Config
	clock    clock.Clock
	logger   *zap.Logger
}

// New builds a Breaker applying cfg to every target's circuit.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) *Breaker {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		circuits: make(map[string]*circuit),
		config:   cfg,
		clock:    clk,
		logger:   logger.With(zap.String("component", "breaker")),
	}
}

func (b *Breaker) circuitFor(target string) *circuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[target]
	if !ok {
		now := b.clock.Now()
		c = &circuit{state: StateClosed, lastChange: now, lastActivity: now}
		b.circuits[target] = c
	}
	return c
}

// resetIfIdleLocked clears counters when target has seen no activity for longer
// than IdleResetDuration, called while c.mu is held.
func (b *Breaker) resetIfIdleLocked(c *circuit, now time.Time) {
	if now.Sub(c.lastActivity) > b.config.IdleResetDuration {
		c.failureCount = 0
		c.halfOpenCalls = 0
		if c.state != StateClosed {
			c.state = StateClosed
			c.lastChange = now
		}
	}
}

// Allow reports whether a call to target may proceed, transitioning Open ->
// HalfOpen when OpenDuration has elapsed. Returns CircuitOpen or
// TooManyCallsInHalfOpen when the call must not proceed.
func (b *Breaker) Allow(target string) error {
	c := b.circuitFor(target)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := b.clock.Now()
	b.resetIfIdleLocked(c, now)
	c.lastActivity = now

	switch c.state {
	case StateClosed:
		return nil

	case StateOpen:
		if now.Sub(c.lastChange) > b.config.OpenDuration {
			c.state = StateHalfOpen
			c.lastChange = now
			// This call is itself the first half-open probe.
			c.halfOpenCalls = 1
			b.logger.Info("circuit entering half-open", zap.String("target", target))
			return nil
		}
		return coorderr.New(coorderr.CodeCircuitOpen, "circuit open").WithTarget(target).WithRetryable(true)

	case StateHalfOpen:
		if c.halfOpenCalls >= b.config.HalfOpenProbeLimit {
			return coorderr.New(coorderr.CodeTooManyCallsInHalfOpen, "half-open probe limit reached").WithTarget(target)
		}
		c.halfOpenCalls++
		return nil

	default:
		return coorderr.Invariant("unknown circuit state").WithTarget(target)
	}
}

// RecordSuccess reports a successful call to target, closing the circuit if
// it was HalfOpen.
func (b *Breaker) RecordSuccess(target string) {
	c := b.circuitFor(target)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivity = b.clock.Now()
	switch c.state {
	case StateClosed:
		c.failureCount = 0
	case StateHalfOpen:
		c.state = StateClosed
		c.lastChange = c.lastActivity
		c.failureCount = 0
		c.halfOpenCalls = 0
		b.logger.Info("circuit closed after successful probe", zap.String("target", target))
	}
}

// RecordFailure reports a failed call to target, opening the circuit if the
// failure threshold is reached (from Closed) or immediately (from
// HalfOpen).
func (b *Breaker) RecordFailure(target string) {
	c := b.circuitFor(target)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := b.clock.Now()
	c.lastActivity = now
	c.failureCount++

	switch c.state {
	case StateClosed:
		if c.failureCount >= b.config.FailureThreshold {
			c.state = StateOpen
			c.lastChange = now
			b.logger.Warn("circuit opened", zap.String("target", target), zap.Int("failure_count", c.failureCount))
		}
	case StateHalfOpen:
		c.state = StateOpen
		c.lastChange = now
		c.halfOpenCalls = 0
		b.logger.Warn("circuit reopened after failed probe", zap.String("target", target))
	}
}

// State returns target's current mode.
func (b *Breaker) State(target string) State {
	c := b.circuitFor(target)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot reports target's mode, how long it has held that mode, and the
// configured OpenDuration, letting a caller judge whether an Open circuit
// has been open unusually long without reaching into breaker internals.
func (b *Breaker) Snapshot(target string) (state State, since time.Duration, openDuration time.Duration) {
	c := b.circuitFor(target)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, b.clock.Now().Sub(c.lastChange), b.config.OpenDuration
}

// Reset forces target back to Closed with cleared counters.
func (b *Breaker) Reset(target string) {
	c := b.circuitFor(target)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	c.failureCount = 0
	c.halfOpenCalls = 0
	c.lastChange = b.clock.Now()
}

// Call runs fn if Allow(target) permits it, recording success/failure.
func (b *Breaker) Call(target string, fn func() error) error {
	if err := b.Allow(target); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		b.RecordFailure(target)
		return err
	}
	b.RecordSuccess(target)
	return nil
}
