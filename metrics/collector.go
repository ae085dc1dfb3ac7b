// Package metrics implements the Metrics & Monitor component: Prometheus
// counters/histograms/gauges for every coordination-core operation, plus a
// periodic alert evaluator and per-component health snapshot.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/model"
)

const latencyWindow = 128

// Collector records every counter/histogram/gauge named in this core's
// metrics surface and keeps the small rolling windows and bookkeeping the
// Monitor needs to evaluate alert thresholds without reaching back into
// registry/mailbox/breaker internals beyond direct Set/Observe calls.
type Collector struct {
	mu sync.Mutex

	messagesTotal     *prometheus.CounterVec
	agentEvents       *prometheus.CounterVec
	heartbeatsMissed  *prometheus.CounterVec
	sessionsTotal     *prometheus.CounterVec
	decisionsTotal    *prometheus.CounterVec
	patternsTotal     *prometheus.CounterVec
	patternDuration   *prometheus.HistogramVec
	consensusTotal    *prometheus.CounterVec
	consensusDuration *prometheus.HistogramVec
	mailboxDepth      *prometheus.GaugeVec
	reservationsGauge *prometheus.GaugeVec
	circuitTransitions *prometheus.CounterVec

	// latencySamples holds up to latencyWindow most recent observations per
	// metric key (e.g. "pattern:code_review_workflow", "mailbox:ag_1"), used
	// to compute an approximate p99 for the HighLatency alert.
	latencySamples map[string][]time.Duration
	// lastConsensusCommit tracks the last time a session committed a
	// decision, per session id, used for the ConsensusStalled alert.
	lastConsensusCommit map[string]time.Time

	logger *zap.Logger
}

// NewCollector registers every metric under namespace and returns a
// Collector ready to record against them.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		latencySamples:      make(map[string][]time.Duration),
		lastConsensusCommit: make(map[string]time.Time),
		logger:              logger.With(zap.String("component", "metrics")),
	}

	c.messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "messages_total", Help: "Total messages by outcome.",
	}, []string{"outcome"}) // sent, received, rejected

	c.agentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "agent_events_total", Help: "Agent registry lifecycle events.",
	}, []string{"event", "agent_type"}) // registered, unregistered

	c.heartbeatsMissed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "agent_heartbeats_missed_total", Help: "Missed heartbeats per agent.",
	}, []string{"agent_id"})

	c.sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "sessions_total", Help: "Session lifecycle events.",
	}, []string{"event"}) // created, closed

	c.decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "consensus_decisions_total", Help: "Session decision outcomes.",
	}, []string{"outcome"})

	c.patternsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "patterns_total", Help: "Pattern executions by outcome.",
	}, []string{"kind", "status"})

	c.patternDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "pattern_duration_seconds", Help: "Pattern execution duration.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"kind"})

	c.consensusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "consensus_outcomes_total", Help: "Consensus round outcomes.",
	}, []string{"policy", "outcome"})

	c.consensusDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "consensus_commit_duration_seconds", Help: "Consensus commit latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"policy"})

	c.mailboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "mailbox_depth", Help: "Current mailbox depth per agent.",
	}, []string{"agent_id"})

	c.reservationsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "resource_reservations_outstanding", Help: "Outstanding reservations per namespace.",
	}, []string{"namespace"})

	c.circuitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "circuit_transitions_total", Help: "Circuit breaker state transitions.",
	}, []string{"target", "from", "to"})

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// --- registry.EventRecorder ---

func (c *Collector) RecordAgentRegistered(agentType string) {
	c.agentEvents.WithLabelValues("registered", agentType).Inc()
}

func (c *Collector) RecordAgentUnregistered(agentType string) {
	c.agentEvents.WithLabelValues("unregistered", agentType).Inc()
}

func (c *Collector) RecordHeartbeatMissed(agentID string) {
	c.heartbeatsMissed.WithLabelValues(agentID).Inc()
}

// --- session.EventRecorder ---

func (c *Collector) RecordSessionCreated() {
	c.sessionsTotal.WithLabelValues("created").Inc()
}

func (c *Collector) RecordSessionClosed(reason string) {
	c.sessionsTotal.WithLabelValues("closed").Inc()
}

func (c *Collector) RecordDecision(outcome model.OutcomeKind) {
	c.decisionsTotal.WithLabelValues(string(outcome)).Inc()
}

// --- pattern.EventRecorder ---

func (c *Collector) RecordPatternStarted(kind model.PatternKind) {
	c.patternsTotal.WithLabelValues(string(kind), "started").Inc()
}

func (c *Collector) RecordPatternSucceeded(kind model.PatternKind, d time.Duration) {
	c.patternsTotal.WithLabelValues(string(kind), "succeeded").Inc()
	c.patternDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
	c.recordLatency("pattern:"+string(kind), d)
}

func (c *Collector) RecordPatternFailed(kind model.PatternKind, reason string) {
	c.patternsTotal.WithLabelValues(string(kind), "failed").Inc()
}

// --- mailbox / routing ---

func (c *Collector) RecordMessageSent()     { c.messagesTotal.WithLabelValues("sent").Inc() }
func (c *Collector) RecordMessageReceived() { c.messagesTotal.WithLabelValues("received").Inc() }
func (c *Collector) RecordMessageRejected() { c.messagesTotal.WithLabelValues("rejected").Inc() }

// RecordMailboxDepth sets the current depth gauge for agentID. Mailbox-wait
// latency samples reach the HighLatency window through RecordMailboxWait.
func (c *Collector) RecordMailboxDepth(agentID string, depth int) {
	c.mailboxDepth.WithLabelValues(agentID).Set(float64(depth))
}

// RecordMailboxWait records how long a message sat in agentID's mailbox
// before being received.
func (c *Collector) RecordMailboxWait(agentID string, d time.Duration) {
	c.recordLatency("mailbox:"+agentID, d)
}

// --- resource pool ---

func (c *Collector) RecordReservationsOutstanding(namespace string, amount int64) {
	c.reservationsGauge.WithLabelValues(namespace).Set(float64(amount))
}

// --- circuit breaker ---

func (c *Collector) RecordCircuitTransition(target, from, to string) {
	c.circuitTransitions.WithLabelValues(target, from, to).Inc()
}

// --- consensus ---

// RecordConsensusOutcome records one round's outcome and, when committed,
// the round-trip duration and the session's last-commit timestamp used by
// the ConsensusStalled alert.
func (c *Collector) RecordConsensusOutcome(sessionID, policy string, outcome model.OutcomeKind, d time.Duration, observedAt time.Time) {
	c.consensusTotal.WithLabelValues(policy, string(outcome)).Inc()
	if outcome == model.OutcomeCommitted {
		c.consensusDuration.WithLabelValues(policy).Observe(d.Seconds())
		c.recordLatency("consensus:"+policy, d)
		c.mu.Lock()
		c.lastConsensusCommit[sessionID] = observedAt
		c.mu.Unlock()
	}
}

func (c *Collector) recordLatency(key string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	samples := append(c.latencySamples[key], d)
	if len(samples) > latencyWindow {
		samples = samples[len(samples)-latencyWindow:]
	}
	c.latencySamples[key] = samples
}

// p99 returns the approximate 99th percentile of key's rolling latency
// window, or 0 if no samples have been recorded.
func (c *Collector) p99(key string) time.Duration {
	c.mu.Lock()
	samples := append([]time.Duration(nil), c.latencySamples[key]...)
	c.mu.Unlock()
	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	idx := (len(samples)*99)/100
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	return samples[idx]
}

// lastCommit returns sessionID's last recorded commit time, if any.
func (c *Collector) lastCommit(sessionID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastConsensusCommit[sessionID]
	return t, ok
}

// latencyKeys returns every key currently tracked in the rolling latency
// window, for the Monitor to sweep when evaluating HighLatency.
func (c *Collector) latencyKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.latencySamples))
	for k := range c.latencySamples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
