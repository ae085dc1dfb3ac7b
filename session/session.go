// Package session implements the Session Manager: coordination sessions
// with membership, access/message/conflict rules, and delegated consensus
// decisions.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

// ConsensusEngine is the narrow view of the consensus engine a session needs
// to resolve a decide() call. The consensus package implements it; session
// never imports consensus directly so a Manager can be wired to whichever
// engine the caller selected for a session's DecisionPolicy.
type ConsensusEngine interface {
	Propose(ctx context.Context, sessionID string, participants []string, proposal []byte) (model.DecisionOutcome, error)
}

// Router is the narrow view of the mailbox hub a session needs to deliver
// member traffic.
type Router interface {
	Broadcast(ctx context.Context, recipients []string, msg model.Message) error
}

// EventRecorder is the metrics hook the session manager calls into.
type EventRecorder interface {
	RecordSessionCreated()
	RecordSessionClosed(reason string)
	RecordDecision(outcome model.OutcomeKind)
}

type noopRecorder struct{}

func (noopRecorder) RecordSessionCreated()           {}
func (noopRecorder) RecordSessionClosed(string)      {}
func (noopRecorder) RecordDecision(model.OutcomeKind) {}

// Manager owns every coordination Session's lifecycle.
type Manager struct {
	mu sync.RWMutex

	sessions map[string]*model.Session

	clock    clock.Clock
	router   Router
	engines  map[model.DecisionPolicy]ConsensusEngine
	recorder EventRecorder
	logger   *zap.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithRouter sets the mailbox hub used by send().
func WithRouter(r Router) Option {
	return func(m *Manager) { m.router = r }
}

// WithConsensusEngine registers the engine used for sessions whose
// DecisionPolicy is policy.
func WithConsensusEngine(policy model.DecisionPolicy, engine ConsensusEngine) Option {
	return func(m *Manager) { m.engines[policy] = engine }
}

// WithEventRecorder overrides the default no-op EventRecorder.
func WithEventRecorder(rec EventRecorder) Option {
	return func(m *Manager) { m.recorder = rec }
}

// New builds a Manager backed by clk for all timestamps.
func New(clk clock.Clock, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		sessions: make(map[string]*model.Session),
		clock:    clk,
		engines:  make(map[model.DecisionPolicy]ConsensusEngine),
		recorder: noopRecorder{},
		logger:   logger.With(zap.String("component", "session")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func defaultedRules(rules model.SessionRules) model.SessionRules {
	if rules.MessageFilter == nil {
		rules.MessageFilter = model.AllowAll
	}
	if rules.DecisionPolicy == "" {
		rules.DecisionPolicy = model.DecisionMajorityVote
	}
	if rules.Conflict.Kind == "" {
		rules.Conflict.Kind = model.ConflictReject
	}
	return rules
}

// Create opens a new session with creator as its sole initial participant.
func (m *Manager) Create(id, topic string, rules model.SessionRules, creator string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return "", coorderr.New(coorderr.CodeDuplicateID, "session id already exists").WithTarget(id)
	}

	now := m.clock.Now()
	m.sessions[id] = &model.Session{
		ID:           id,
		Topic:        topic,
		Creator:      creator,
		Participants: []string{creator},
		Rules:        defaultedRules(rules),
		State:        model.SessionOpen,
		CreatedAt:    now,
	}
	m.recorder.RecordSessionCreated()
	m.logger.Info("session created", zap.String("session_id", id), zap.String("creator", creator))
	return id, nil
}

func (m *Manager) mustOpen(id string) (*model.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, coorderr.New(coorderr.CodeUnknownAgent, "unknown session").WithTarget(id)
	}
	if !s.Mutable() {
		return nil, coorderr.New(coorderr.CodeSessionClosed, "session is closed").WithTarget(id)
	}
	return s, nil
}

// Join admits agent to session id, subject to its access policy. Fails
// AccessDenied if the policy rejects agent, SessionClosed if the session has
// already terminated.
func (m *Manager) Join(id, agent string, capabilities map[string]struct{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.mustOpen(id)
	if err != nil {
		return err
	}
	if s.HasParticipant(agent) {
		return nil
	}

	switch s.Rules.AccessPolicy {
	case model.AccessOpen:
		// always permitted
	case model.AccessInviteOnly:
		return coorderr.New(coorderr.CodeAccessDenied, "session is invite-only").WithTarget(id)
	case model.AccessCapabilityGated:
		for gate := range s.Rules.CapabilityGate {
			if _, ok := capabilities[gate]; !ok {
				return coorderr.New(coorderr.CodeAccessDenied, "agent lacks a required capability").WithTarget(id)
			}
		}
	}

	s.Participants = append(s.Participants, agent)
	m.logger.Info("agent joined session", zap.String("session_id", id), zap.String("agent_id", agent))
	return nil
}

// Leave removes agent from session id. If the session has consensus pending
// and agent was its engine's current leader, Leave logs a warning; it
// requests no election from the ConsensusEngine.
func (m *Manager) Leave(ctx context.Context, id, agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return coorderr.New(coorderr.CodeUnknownAgent, "unknown session").WithTarget(id)
	}

	wasLeader := s.State == model.SessionDeciding && m.isCurrentLeader(ctx, s, agent)

	remaining := s.Participants[:0:0]
	for _, p := range s.Participants {
		if p != agent {
			remaining = append(remaining, p)
		}
	}
	s.Participants = remaining

	if wasLeader {
		m.logger.Warn("leaving agent was consensus leader, election will be triggered by next propose",
			zap.String("session_id", id), zap.String("agent_id", agent))
	}
	return nil
}

func (m *Manager) isCurrentLeader(_ context.Context, s *model.Session, agent string) bool {
	type leaderAware interface {
		CurrentLeader(sessionID string) string
	}
	engine, ok := m.engines[s.Rules.DecisionPolicy]
	if !ok {
		return false
	}
	la, ok := engine.(leaderAware)
	if !ok {
		return false
	}
	return la.CurrentLeader(s.ID) == agent
}

// Send routes msg to every member of session id other than msg.Sender, if
// msg passes the session's configured filter.
func (m *Manager) Send(ctx context.Context, id string, msg model.Message) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.RUnlock()
		return coorderr.New(coorderr.CodeUnknownAgent, "unknown session").WithTarget(id)
	}
	if !s.Mutable() {
		m.mu.RUnlock()
		return coorderr.New(coorderr.CodeSessionClosed, "session is closed").WithTarget(id)
	}
	filter := s.Rules.MessageFilter
	var recipients []string
	for _, p := range s.Participants {
		if p != msg.Sender {
			recipients = append(recipients, p)
		}
	}
	m.mu.RUnlock()

	if !filter(msg) {
		return nil
	}
	if m.router == nil || len(recipients) == 0 {
		return nil
	}
	return m.router.Broadcast(ctx, recipients, msg)
}

// Decide delegates proposal to the session's configured ConsensusEngine and,
// when the outcome is Committed, appends it to the decision log.
func (m *Manager) Decide(ctx context.Context, id string, proposal []byte) (model.DecisionOutcome, error) {
	m.mu.Lock()
	s, err := m.mustOpen(id)
	if err != nil {
		m.mu.Unlock()
		return model.DecisionOutcome{}, err
	}
	engine, ok := m.engines[s.Rules.DecisionPolicy]
	if !ok {
		m.mu.Unlock()
		return model.DecisionOutcome{}, coorderr.New(coorderr.CodeInvalidConfiguration,
			"no consensus engine registered for session's decision policy").WithTarget(id)
	}
	participants := append([]string(nil), s.Participants...)
	s.State = model.SessionDeciding
	m.mu.Unlock()

	outcome, proposeErr := engine.Propose(ctx, id, participants, proposal)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok = m.sessions[id]
	if !ok {
		return outcome, proposeErr
	}
	s.State = model.SessionOpen
	if outcome.Kind == model.OutcomeCommitted {
		s.DecisionLog = append(s.DecisionLog, model.DecisionLogEntry{
			Term:      outcome.Term,
			Index:     outcome.Index,
			Proposer:  s.Creator,
			Payload:   proposal,
			Committed: true,
			DecidedAt: m.clock.Now(),
		})
	}
	m.recorder.RecordDecision(outcome.Kind)
	return outcome, proposeErr
}

// Close terminates session id; subsequent Join, Send and Decide calls on it
// fail SessionClosed.
func (m *Manager) Close(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return coorderr.New(coorderr.CodeUnknownAgent, "unknown session").WithTarget(id)
	}
	if s.State == model.SessionClosed || s.State == model.SessionAborted {
		return nil
	}
	s.State = model.SessionClosed
	s.ClosedAt = m.clock.Now()
	m.recorder.RecordSessionClosed(reason)
	m.logger.Info("session closed", zap.String("session_id", id), zap.String("reason", reason))
	return nil
}

// Get returns a copy of session id's current state.
func (m *Manager) Get(id string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, coorderr.New(coorderr.CodeUnknownAgent, "unknown session").WithTarget(id)
	}
	return *s, nil
}

// List returns every session this Manager currently tracks, open or
// closed, in no particular order.
func (m *Manager) List() []model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}
