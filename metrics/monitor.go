package metrics

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/breaker"
	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/mailbox"
	"github.com/rhema-dev/coordination/registry"
)

// AlertName identifies one of the fixed threshold-based alert conditions.
type AlertName string

const (
	AlertHighLatency           AlertName = "HighLatency"
	AlertQueueSaturated        AlertName = "QueueSaturated"
	AlertCircuitOpenSustained  AlertName = "CircuitOpenSustained"
	AlertConsensusStalled      AlertName = "ConsensusStalled"
)

// Alert is one fired threshold breach.
type Alert struct {
	Name      AlertName
	Component string
	Severity  coorderr.Severity
	Message   string
	FiredAt   time.Time
}

// Status names a component's aggregated health.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// Thresholds parameterizes every alert the Monitor evaluates. Defaults match
// the chosen values: p99 > 2s, queue depth > 80% capacity, circuit Open for
// > 5x its configured OpenDuration, no consensus commit for > 10x election
// timeout.
type Thresholds struct {
	HighLatencyP99          time.Duration
	QueueSaturationFraction float64
	CircuitOpenMultiplier   float64
	ElectionTimeout         time.Duration
	ConsensusStallMultiplier float64
}

// DefaultThresholds returns the spec-chosen defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighLatencyP99:           2 * time.Second,
		QueueSaturationFraction:  0.8,
		CircuitOpenMultiplier:    5,
		ElectionTimeout:          150 * time.Millisecond,
		ConsensusStallMultiplier: 10,
	}
}

// Monitor periodically evaluates alert thresholds against a Collector's
// recorded metrics plus live polls of the registry, mailbox hub, and
// circuit breaker, and aggregates per-component health.
type Monitor struct {
	mu sync.Mutex

	collector  *Collector
	registry   *registry.Registry
	hub        *mailbox.Hub
	breaker    *breaker.Breaker
	thresholds Thresholds
	now        func() time.Time
	logger     *zap.Logger

	// circuitTargets is the set of targets to poll for CircuitOpenSustained;
	// the breaker itself has no "list known targets" accessor since a
	// target's circuit is created lazily on first Allow/RecordFailure call.
	circuitTargets map[string]struct{}
	// sessionIDs is the set of sessions to poll for ConsensusStalled.
	sessionIDs map[string]struct{}

	lastAlerts []Alert
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithThresholds overrides DefaultThresholds.
func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) { m.thresholds = t }
}

// WithClock overrides the wall-clock function used for "now", for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor builds a Monitor backed by collector for metrics and reg/hub/b
// for live polling.
func NewMonitor(collector *Collector, reg *registry.Registry, hub *mailbox.Hub, b *breaker.Breaker, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		collector:      collector,
		registry:       reg,
		hub:            hub,
		breaker:        b,
		thresholds:     DefaultThresholds(),
		now:            time.Now,
		logger:         logger.With(zap.String("component", "monitor")),
		circuitTargets: make(map[string]struct{}),
		sessionIDs:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TrackCircuitTarget adds target to the set polled for CircuitOpenSustained.
func (m *Monitor) TrackCircuitTarget(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitTargets[target] = struct{}{}
}

// TrackSession adds sessionID to the set polled for ConsensusStalled.
func (m *Monitor) TrackSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionIDs[sessionID] = struct{}{}
}

// UntrackSession removes sessionID once its session closes.
func (m *Monitor) UntrackSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessionIDs, sessionID)
}

// Evaluate runs one alert-evaluation pass and returns every alert currently
// firing. It also updates the snapshot Health reads.
func (m *Monitor) Evaluate() []Alert {
	var alerts []Alert
	now := m.now()

	for _, key := range m.collector.latencyKeys() {
		if p99 := m.collector.p99(key); p99 > m.thresholds.HighLatencyP99 {
			alerts = append(alerts, Alert{
				Name: AlertHighLatency, Component: key, Severity: coorderr.SeverityWarn,
				Message: "p99 latency exceeds threshold", FiredAt: now,
			})
		}
	}

	if m.hub != nil && m.registry != nil {
		capacity := m.hub.Capacity()
		if capacity > 0 {
			for _, agent := range m.registry.Query(registry.Filter{}) {
				depth := m.hub.Depth(agent.ID)
				m.collector.RecordMailboxDepth(agent.ID, depth)
				if float64(depth)/float64(capacity) > m.thresholds.QueueSaturationFraction {
					alerts = append(alerts, Alert{
						Name: AlertQueueSaturated, Component: agent.ID, Severity: coorderr.SeverityWarn,
						Message: "mailbox depth exceeds saturation threshold", FiredAt: now,
					})
				}
			}
		}
	}

	if m.breaker != nil {
		m.mu.Lock()
		targets := make([]string, 0, len(m.circuitTargets))
		for t := range m.circuitTargets {
			targets = append(targets, t)
		}
		m.mu.Unlock()
		for _, target := range targets {
			state, since, openDuration := m.breaker.Snapshot(target)
			if state == breaker.StateOpen && openDuration > 0 &&
				since > time.Duration(m.thresholds.CircuitOpenMultiplier*float64(openDuration)) {
				alerts = append(alerts, Alert{
					Name: AlertCircuitOpenSustained, Component: target, Severity: coorderr.SeverityError,
					Message: "circuit has been open far longer than its configured open duration", FiredAt: now,
				})
			}
		}
	}

	m.mu.Lock()
	sessions := make([]string, 0, len(m.sessionIDs))
	for s := range m.sessionIDs {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	stallAfter := time.Duration(m.thresholds.ConsensusStallMultiplier * float64(m.thresholds.ElectionTimeout))
	for _, sessionID := range sessions {
		last, ok := m.collector.lastCommit(sessionID)
		if !ok {
			continue
		}
		if now.Sub(last) > stallAfter {
			alerts = append(alerts, Alert{
				Name: AlertConsensusStalled, Component: sessionID, Severity: coorderr.SeverityCritical,
				Message: "no committed decision for longer than the stall threshold", FiredAt: now,
			})
		}
	}

	m.mu.Lock()
	m.lastAlerts = alerts
	m.mu.Unlock()
	for _, a := range alerts {
		m.logger.Warn("alert fired", zap.String("name", string(a.Name)), zap.String("component", a.Component),
			zap.String("severity", string(a.Severity)))
	}
	return alerts
}

// Health aggregates the most recent Evaluate pass into a per-component
// status map: any Critical alert for a component makes it Unhealthy, any
// other severity makes it Degraded. A component with no firing alert has no
// entry in the map. Components are identified by the same strings
// Alert.Component uses (agent ids, session ids, latency keys).
func (m *Monitor) Health() map[string]Status {
	m.mu.Lock()
	alerts := append([]Alert(nil), m.lastAlerts...)
	m.mu.Unlock()

	statuses := make(map[string]Status)
	for _, a := range alerts {
		switch {
		case a.Severity == coorderr.SeverityCritical:
			statuses[a.Component] = Unhealthy
		case statuses[a.Component] != Unhealthy:
			statuses[a.Component] = Degraded
		}
	}
	return statuses
}

// Run starts a ticker-driven loop calling Evaluate every interval until stop
// is closed. Intended to be launched as a goroutine by the coordinator facade.
func (m *Monitor) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Evaluate()
		}
	}
}
