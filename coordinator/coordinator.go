// Package coordinator composes every standalone component — registry,
// mailbox, balancer, breaker, session manager, consensus engines, pattern
// executor, resource pool, metrics — into the single facade an operator or
// CLI drives: one Coordinator exposing agent, session, message, and
// pattern operations over a shared, consistently wired set of subsystems.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/audit"
	"github.com/rhema-dev/coordination/balancer"
	"github.com/rhema-dev/coordination/breaker"
	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/mailbox"
	"github.com/rhema-dev/coordination/metrics"
	"github.com/rhema-dev/coordination/model"
	"github.com/rhema-dev/coordination/pattern"
	"github.com/rhema-dev/coordination/registry"
	"github.com/rhema-dev/coordination/resourcepool"
	"github.com/rhema-dev/coordination/session"
)

// Config parameterizes every subsystem a Coordinator composes.
type Config struct {
	MailboxCapacity int
	OverflowPolicy  mailbox.OverflowPolicy
	OverflowStore   mailbox.OverflowStore

	BalancerStrategy balancer.Strategy
	Breaker          breaker.Config

	// ConsensusEngines maps a DecisionPolicy to the Engine instance sessions
	// using that policy delegate to. Construction (Raft/Paxos/BFT/majority
	// vote, each with the consensus.Transport it sends through) is the
	// caller's responsibility since an Engine needs this process's own
	// agent id as its "self" identity.
	ConsensusEngines map[model.DecisionPolicy]session.ConsensusEngine

	ResourceCapacities map[resourcepool.Namespace]int64

	// HeartbeatInterval is the expected interval between an agent's
	// heartbeats; Start sweeps the registry for misses at 3x this interval.
	// Zero keeps the registry's own default.
	HeartbeatInterval time.Duration

	Authenticator registry.AgentAuthenticator

	MetricsNamespace string
	AlertThresholds  metrics.Thresholds

	AuditStore *audit.Store

	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.MailboxCapacity == 0 {
		c.MailboxCapacity = 1024
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = mailbox.DropOldestLower
	}
	if c.BalancerStrategy == "" {
		c.BalancerStrategy = balancer.LeastConnections
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = "rhema"
	}
	if c.AlertThresholds == (metrics.Thresholds{}) {
		c.AlertThresholds = metrics.DefaultThresholds()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Coordinator is the facade through which a CLI or embedding process drives
// the whole coordination core. Each subsystem remains independently
// testable; Coordinator only wires them together and owns the adapters
// that let them talk to one another through their narrow interfaces.
type Coordinator struct {
	registry  *registry.Registry
	hub       *mailbox.Hub
	balancer  *balancer.Balancer
	breaker   *breaker.Breaker
	sessions  *session.Manager
	resources *resourcepool.Pool
	patterns  *pattern.Executor
	collector *metrics.Collector
	monitor   *metrics.Monitor
	audit     *audit.Store

	clock  clock.Clock
	logger *zap.Logger

	runningMu sync.Mutex
	running   map[string]context.CancelFunc

	historyMu sync.Mutex
	history   []HistoryEntry

	done     chan struct{}
	stopOnce sync.Once
}

// historyLimit bounds the in-memory message history ring buffer. It exists
// for operator visibility within a single process's lifetime only; nothing
// here is durable across restarts.
const historyLimit = 500

// HistoryEntry records one message crossing SendMessage, BroadcastMessage,
// or ReceiveMessage, for system message-history inspection.
type HistoryEntry struct {
	Direction string // "sent", "broadcast", or "received"
	MessageID string
	Sender    string
	Recipient string
	Type      model.MessageType
	At        time.Time
}

func (co *Coordinator) recordHistory(entry HistoryEntry) {
	co.historyMu.Lock()
	defer co.historyMu.Unlock()
	co.history = append(co.history, entry)
	if over := len(co.history) - historyLimit; over > 0 {
		co.history = co.history[over:]
	}
}

// MessageHistory returns the most recent message events this Coordinator
// has observed, oldest first, capped at limit (0 means no cap beyond the
// buffer's own retention).
func (co *Coordinator) MessageHistory(limit int) []HistoryEntry {
	co.historyMu.Lock()
	defer co.historyMu.Unlock()
	if limit <= 0 || limit >= len(co.history) {
		out := make([]HistoryEntry, len(co.history))
		copy(out, co.history)
		return out
	}
	start := len(co.history) - limit
	out := make([]HistoryEntry, limit)
	copy(out, co.history[start:])
	return out
}

// New builds a Coordinator with every subsystem wired per cfg.
func New(clk clock.Clock, cfg Config) *Coordinator {
	cfg.applyDefaults()
	logger := cfg.Logger.With(zap.String("component", "coordinator"))

	collector := metrics.NewCollector(cfg.MetricsNamespace, logger)

	regOpts := []registry.Option{registry.WithEventRecorder(collector)}
	if cfg.Authenticator != nil {
		regOpts = append(regOpts, registry.WithAuthenticator(cfg.Authenticator))
	}
	if cfg.HeartbeatInterval > 0 {
		regOpts = append(regOpts, registry.WithHeartbeatInterval(cfg.HeartbeatInterval))
	}
	reg := registry.New(clk, logger, regOpts...)

	hub := mailbox.New(cfg.MailboxCapacity, cfg.OverflowPolicy, logger, mailboxOptions(cfg)...)

	bal := balancer.New(cfg.BalancerStrategy)
	brk := breaker.New(cfg.Breaker, clk, logger)

	resPool := resourcepool.New(clk)
	for ns, capacity := range cfg.ResourceCapacities {
		resPool.SetCapacity(ns, capacity)
	}

	sessionOpts := []session.Option{session.WithRouter(newRouter(hub)), session.WithEventRecorder(collector)}
	for policy, engine := range cfg.ConsensusEngines {
		sessionOpts = append(sessionOpts, session.WithConsensusEngine(policy, engine))
	}
	sessions := session.New(clk, logger, sessionOpts...)

	disp := newDispatcher(reg, hub, bal, brk, clk)
	exec := pattern.New(newPool(resPool), disp, clk, logger, pattern.WithEventRecorder(collector))

	monitor := metrics.NewMonitor(collector, reg, hub, brk, logger, metrics.WithThresholds(cfg.AlertThresholds))

	return &Coordinator{
		registry:  reg,
		hub:       hub,
		balancer:  bal,
		breaker:   brk,
		sessions:  sessions,
		resources: resPool,
		patterns:  exec,
		collector: collector,
		monitor:   monitor,
		audit:     cfg.AuditStore,
		clock:     clk,
		logger:    logger,
		running:   make(map[string]context.CancelFunc),
		done:      make(chan struct{}),
	}
}

func mailboxOptions(cfg Config) []mailbox.Option {
	if cfg.OverflowStore == nil {
		return nil
	}
	return []mailbox.Option{mailbox.WithOverflowStore(cfg.OverflowStore)}
}

// Start launches the monitor's periodic alert evaluation loop and the
// registry's heartbeat sweep loop, both until Shutdown is called. interval
// is how often Evaluate runs; the heartbeat sweep runs on its own cadence
// derived from the registry's configured heartbeat interval.
func (co *Coordinator) Start(interval time.Duration) {
	go co.monitor.Run(co.done, interval)
	go co.runHeartbeatSweep()
	co.logger.Info("coordinator started")
}

// runHeartbeatSweep periodically demotes agents that have missed their
// heartbeat deadline (elapsed > 3x the expected interval) to Offline.
// It wakes at the same cadence as the miss deadline itself's shortest
// reasonable granularity — the expected interval — so a miss is caught
// within one interval of crossing the 3x threshold.
func (co *Coordinator) runHeartbeatSweep() {
	ticker := time.NewTicker(co.registry.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-co.done:
			return
		case <-ticker.C:
			co.registry.SweepHeartbeats()
		}
	}
}

// Shutdown stops the monitor loop and waits up to deadline for any pattern
// executions still running to finish, cancelling whichever have not by
// then.
func (co *Coordinator) Shutdown(ctx context.Context, deadline time.Duration) error {
	co.stopOnce.Do(func() { close(co.done) })

	shutdownCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for {
		if co.runningCount() == 0 {
			co.logger.Info("coordinator shutdown complete")
			return nil
		}
		select {
		case <-shutdownCtx.Done():
			co.cancelAllRunning()
			co.logger.Warn("coordinator shutdown deadline exceeded, cancelled remaining executions")
			return shutdownCtx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (co *Coordinator) runningCount() int {
	co.runningMu.Lock()
	defer co.runningMu.Unlock()
	return len(co.running)
}

func (co *Coordinator) cancelAllRunning() {
	co.runningMu.Lock()
	defer co.runningMu.Unlock()
	for _, cancel := range co.running {
		cancel()
	}
}

// --- Agent operations ---

// RegisterAgent admits a new agent into the registry, opens its mailbox,
// and brings it into circuit-open alert evaluation.
func (co *Coordinator) RegisterAgent(ctx context.Context, spec registry.Spec) (string, error) {
	id, err := co.registry.Register(ctx, spec)
	if err != nil {
		return "", err
	}
	co.hub.Register(id)
	co.monitor.TrackCircuitTarget(id)
	return id, nil
}

// UnregisterAgent removes an agent and its mailbox.
func (co *Coordinator) UnregisterAgent(id string) error {
	co.hub.Unregister(id)
	return co.registry.Unregister(id)
}

// UpdateAgentStatus transitions an agent to a new lifecycle status.
func (co *Coordinator) UpdateAgentStatus(id string, status model.AgentStatus) error {
	return co.registry.UpdateStatus(id, status)
}

// Heartbeat refreshes an agent's liveness and health score.
func (co *Coordinator) Heartbeat(id string, health float64) error {
	return co.registry.Heartbeat(id, health)
}

// Agent returns the current record for id.
func (co *Coordinator) Agent(id string) (model.Agent, error) {
	return co.registry.Get(id)
}

// QueryAgents returns every agent matching filter.
func (co *Coordinator) QueryAgents(filter registry.Filter) []model.Agent {
	return co.registry.Query(filter)
}

// --- Session operations ---

// CreateSession opens a new coordination session.
func (co *Coordinator) CreateSession(id, topic string, rules model.SessionRules, creator string) (string, error) {
	sid, err := co.sessions.Create(id, topic, rules, creator)
	if err == nil {
		co.monitor.TrackSession(sid)
	}
	return sid, err
}

// JoinSession admits agent into an open session.
func (co *Coordinator) JoinSession(id, agent string, capabilities map[string]struct{}) error {
	return co.sessions.Join(id, agent, capabilities)
}

// LeaveSession removes agent from a session.
func (co *Coordinator) LeaveSession(ctx context.Context, id, agent string) error {
	return co.sessions.Leave(ctx, id, agent)
}

// SendToSession routes msg to every participant of session id.
func (co *Coordinator) SendToSession(ctx context.Context, id string, msg model.Message) error {
	return co.sessions.Send(ctx, id, msg)
}

// Decide drives session id's configured consensus policy to a verdict over
// proposal, recording the outcome to the audit store when one is
// configured.
func (co *Coordinator) Decide(ctx context.Context, id string, proposal []byte) (model.DecisionOutcome, error) {
	outcome, err := co.sessions.Decide(ctx, id, proposal)
	if err != nil {
		return outcome, err
	}
	if co.audit != nil {
		sess, getErr := co.sessions.Get(id)
		if getErr == nil && len(sess.DecisionLog) > 0 {
			co.audit.RecordDecision(ctx, id, sess.DecisionLog[len(sess.DecisionLog)-1], outcome.Kind)
		}
	}
	return outcome, err
}

// CloseSession closes a session for reason.
func (co *Coordinator) CloseSession(id, reason string) error {
	err := co.sessions.Close(id, reason)
	co.monitor.UntrackSession(id)
	return err
}

// Session returns the current record for id.
func (co *Coordinator) Session(id string) (model.Session, error) {
	return co.sessions.Get(id)
}

// ListSessions returns every session this Coordinator currently tracks.
func (co *Coordinator) ListSessions() []model.Session {
	return co.sessions.List()
}

// --- Messaging operations ---

// SendMessage delivers msg to its addressed recipient's mailbox, recording
// depth and sent/rejected metrics.
func (co *Coordinator) SendMessage(ctx context.Context, msg *model.Message) error {
	err := co.hub.Send(ctx, msg)
	if err != nil {
		co.collector.RecordMessageRejected()
		return err
	}
	co.collector.RecordMessageSent()
	if msg.Recipient.Kind == model.RecipientAgent {
		co.collector.RecordMailboxDepth(msg.Recipient.Target, co.hub.Depth(msg.Recipient.Target))
	}
	co.recordHistory(HistoryEntry{
		Direction: "sent", MessageID: msg.ID, Sender: msg.Sender,
		Recipient: msg.Recipient.Target, Type: msg.Type, At: co.clock.Now(),
	})
	return nil
}

// BroadcastMessage fans msg out to every registered mailbox matching
// filter.
func (co *Coordinator) BroadcastMessage(ctx context.Context, filter func(agentID string) bool, msg *model.Message) []error {
	errs := co.hub.Broadcast(ctx, filter, msg)
	co.recordHistory(HistoryEntry{
		Direction: "broadcast", MessageID: msg.ID, Sender: msg.Sender, Type: msg.Type, At: co.clock.Now(),
	})
	return errs
}

// ReceiveMessage blocks until agentID's mailbox yields a message or
// deadline passes, recording the time spent waiting.
func (co *Coordinator) ReceiveMessage(ctx context.Context, agentID string, deadline time.Time) (*model.Message, error) {
	start := co.clock.Now()
	msg, err := co.hub.Receive(ctx, agentID, deadline)
	co.collector.RecordMailboxWait(agentID, co.clock.Now().Sub(start))
	if err == nil {
		co.collector.RecordMessageReceived()
		co.recordHistory(HistoryEntry{
			Direction: "received", MessageID: msg.ID, Sender: msg.Sender,
			Recipient: agentID, Type: msg.Type, At: co.clock.Now(),
		})
	}
	return msg, err
}

// --- Pattern operations ---

// ExecutePattern runs def to completion synchronously, recording the
// result to the audit store when one is configured.
func (co *Coordinator) ExecutePattern(ctx context.Context, def pattern.Definition, config map[string]any, sessionID string) (*model.PatternExecution, error) {
	execCtx, cancel := context.WithCancel(ctx)
	token := clock.NewID(clock.KindPattern)
	co.runningMu.Lock()
	co.running[token] = cancel
	co.runningMu.Unlock()
	defer func() {
		cancel()
		co.runningMu.Lock()
		delete(co.running, token)
		co.runningMu.Unlock()
	}()

	exec, err := co.patterns.Execute(execCtx, def, config, sessionID)
	if exec != nil && co.audit != nil {
		co.audit.RecordPatternExecution(ctx, exec)
	}
	return exec, err
}

// ObservePattern reports the current state of a running or completed
// execution.
func (co *Coordinator) ObservePattern(id string) (model.PatternExecution, error) {
	return co.patterns.Observe(id)
}

// CancelPattern requests early termination of a running execution.
func (co *Coordinator) CancelPattern(id string) error {
	return co.patterns.Cancel(id)
}

// --- Metrics operations ---

// Alerts evaluates every configured threshold against current metrics.
func (co *Coordinator) Alerts() []metrics.Alert {
	return co.monitor.Evaluate()
}

// Health reports aggregated per-component health status.
func (co *Coordinator) Health() map[string]metrics.Status {
	return co.monitor.Health()
}

// TrackBreakerTarget begins including target in circuit-open alert
// evaluation; used once an agent is first dispatched to.
func (co *Coordinator) TrackBreakerTarget(target string) {
	co.monitor.TrackCircuitTarget(target)
}

// ResourceSnapshot reports each resource pool namespace's current capacity
// and usage.
func (co *Coordinator) ResourceSnapshot() []resourcepool.NamespaceSnapshot {
	return co.resources.Snapshot()
}
