// Package registry implements the Agent Registry: admission, status
// transitions, heartbeat liveness tracking, and capability-indexed lookup
// used by the load balancer's candidate selection.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

// EventRecorder is the narrow metrics hook the registry calls into. The
// metrics package implements it; registry never imports metrics directly to
// avoid a cycle (metrics consumes registry queries for its health
// snapshot).
type EventRecorder interface {
	RecordAgentRegistered(agentType string)
	RecordAgentUnregistered(agentType string)
	RecordHeartbeatMissed(agentID string)
}

type noopRecorder struct{}

func (noopRecorder) RecordAgentRegistered(string)   {}
func (noopRecorder) RecordAgentUnregistered(string) {}
func (noopRecorder) RecordHeartbeatMissed(string)   {}

// Spec is the input to Register.
type Spec struct {
	ID           string
	Name         string
	Type         string
	Capabilities []string
	Scope        string
	Credential   []byte // passed to the configured AgentAuthenticator
}

// Filter narrows Query results. A zero-value Filter (every field empty)
// matches every agent.
type Filter struct {
	Type         string
	Status       model.AgentStatus
	HasStatus    bool
	Scope        string
	Capabilities []string // agent must carry all of these
}

// Registry tracks every agent known to this coordination core: identity,
// capabilities, status, and health. Capabilities are immutable after
// Register; status and health are mutated by UpdateStatus and Heartbeat.
type Registry struct {
	mu sync.RWMutex

	agents map[string]*model.Agent
	// capabilityIndex maps capability name -> agent id -> present, so a
	// load-balancer candidate lookup never scans every agent.
	capabilityIndex map[string]map[string]struct{}

	clock        clock.Clock
	auth         AgentAuthenticator
	recorder     EventRecorder
	logger       *zap.Logger
	heartbeatTTL time.Duration // missed after 3x this interval
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithAuthenticator overrides the default no-op AgentAuthenticator.
func WithAuthenticator(a AgentAuthenticator) Option {
	return func(r *Registry) { r.auth = a }
}

// WithEventRecorder overrides the default no-op EventRecorder.
func WithEventRecorder(rec EventRecorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithHeartbeatInterval sets the expected heartbeat interval; a miss is
// declared after 3x this duration elapses without a heartbeat.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(r *Registry) { r.heartbeatTTL = d }
}

// New builds a Registry backed by clk for all time/deadline computations.
func New(clk clock.Clock, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		agents:          make(map[string]*model.Agent),
		capabilityIndex: make(map[string]map[string]struct{}),
		clock:           clk,
		auth:            NoopAuthenticator{},
		recorder:        noopRecorder{},
		logger:          logger.With(zap.String("component", "registry")),
		heartbeatTTL:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register admits a new agent. Fails with DuplicateID if id is already
// registered, InvalidSpec if the capability set is empty, or AccessDenied if
// the configured AgentAuthenticator rejects the credential.
func (r *Registry) Register(ctx context.Context, spec Spec) (string, error) {
	if len(spec.Capabilities) == 0 {
		return "", coorderr.New(coorderr.CodeInvalidSpec, "capability set must not be empty").WithTarget(spec.ID)
	}
	if err := r.auth.Authenticate(ctx, spec.ID, spec.Credential); err != nil {
		return "", coorderr.New(coorderr.CodeAccessDenied, "agent authentication failed").
			WithTarget(spec.ID).WithCause(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[spec.ID]; exists {
		return "", coorderr.New(coorderr.CodeDuplicateID, "agent id already registered").WithTarget(spec.ID)
	}

	caps := make(map[string]struct{}, len(spec.Capabilities))
	for _, c := range spec.Capabilities {
		caps[c] = struct{}{}
	}

	now := r.clock.Now()
	agent := &model.Agent{
		ID:            spec.ID,
		Name:          spec.Name,
		Type:          spec.Type,
		Capabilities:  caps,
		Status:        model.AgentIdle,
		Health:        1.0,
		LastHeartbeat: now,
		Scope:         spec.Scope,
		RegisteredAt:  now,
	}
	r.agents[spec.ID] = agent
	for c := range caps {
		if r.capabilityIndex[c] == nil {
			r.capabilityIndex[c] = make(map[string]struct{})
		}
		r.capabilityIndex[c][spec.ID] = struct{}{}
	}

	r.recorder.RecordAgentRegistered(spec.Type)
	r.logger.Info("agent registered", zap.String("agent_id", spec.ID), zap.String("type", spec.Type))
	return spec.ID, nil
}

// Unregister removes agent id. Idempotent: succeeds if the agent is already
// absent.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil
	}
	for c := range agent.Capabilities {
		delete(r.capabilityIndex[c], id)
		if len(r.capabilityIndex[c]) == 0 {
			delete(r.capabilityIndex, c)
		}
	}
	delete(r.agents, id)
	r.recorder.RecordAgentUnregistered(agent.Type)
	r.logger.Info("agent unregistered", zap.String("agent_id", id))
	return nil
}

// UpdateStatus transitions id's status. Fails with IllegalTransition if the
// move isn't permitted by the status state machine, or UnknownAgent if id
// isn't registered.
func (r *Registry) UpdateStatus(id string, status model.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return coorderr.New(coorderr.CodeUnknownAgent, "agent not registered").WithTarget(id)
	}
	if !model.CanTransition(agent.Status, status) {
		return coorderr.New(coorderr.CodeIllegalTransition, "status transition not permitted").
			WithTarget(id)
	}
	agent.Status = status
	return nil
}

// Heartbeat records liveness and health for id, resetting its heartbeat
// deadline. Fails with UnknownAgent if id isn't registered.
func (r *Registry) Heartbeat(id string, health float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return coorderr.New(coorderr.CodeUnknownAgent, "agent not registered").WithTarget(id)
	}
	agent.LastHeartbeat = r.clock.Now()
	agent.Health = health
	if agent.Status == model.AgentOffline {
		agent.Status = model.AgentIdle
	}
	return nil
}

// HeartbeatInterval returns the expected heartbeat interval this Registry
// was configured with, so callers can derive a sweep cadence from it.
func (r *Registry) HeartbeatInterval() time.Duration {
	return r.heartbeatTTL
}

// SweepHeartbeats demotes any agent whose last heartbeat is older than 3x
// the configured heartbeat interval to Offline. Callers run this on a
// ticker; it is not triggered implicitly by reads.
func (r *Registry) SweepHeartbeats() {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := 3 * r.heartbeatTTL
	now := r.clock.Now()
	for id, agent := range r.agents {
		if agent.Status == model.AgentOffline {
			continue
		}
		if now.Sub(agent.LastHeartbeat) > deadline {
			agent.Status = model.AgentOffline
			r.recorder.RecordHeartbeatMissed(id)
			r.logger.Warn("agent heartbeat missed, demoting to offline", zap.String("agent_id", id))
		}
	}
}

// Get returns a copy of the agent info for id, or UnknownAgent.
func (r *Registry) Get(id string) (model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return model.Agent{}, coorderr.New(coorderr.CodeUnknownAgent, "agent not registered").WithTarget(id)
	}
	return *agent, nil
}

// Query returns every agent matching filter.
func (r *Registry) Query(filter Filter) []model.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Agent
	for _, agent := range r.agents {
		if filter.Type != "" && agent.Type != filter.Type {
			continue
		}
		if filter.HasStatus && agent.Status != filter.Status {
			continue
		}
		if filter.Scope != "" && agent.Scope != filter.Scope {
			continue
		}
		if !hasAllCapabilities(agent, filter.Capabilities) {
			continue
		}
		out = append(out, *agent)
	}
	return out
}

// CandidatesWithCapabilities returns agent ids carrying every capability in
// required, using the capability index rather than scanning every agent.
func (r *Registry) CandidatesWithCapabilities(required []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(required) == 0 {
		ids := make([]string, 0, len(r.agents))
		for id := range r.agents {
			ids = append(ids, id)
		}
		return ids
	}

	first, ok := r.capabilityIndex[required[0]]
	if !ok {
		return nil
	}
	var candidates []string
	for id := range first {
		agent := r.agents[id]
		if hasAllCapabilities(agent, required) {
			candidates = append(candidates, id)
		}
	}
	return candidates
}

func hasAllCapabilities(agent *model.Agent, required []string) bool {
	for _, c := range required {
		if _, ok := agent.Capabilities[c]; !ok {
			return false
		}
	}
	return true
}
