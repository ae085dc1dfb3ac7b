// Package model defines the data types shared across the coordination core:
// Agent, Message, Session, Pattern Execution, and their supporting
// enumerations. Each type is owned by exactly one component (Agent by the
// registry, Session by the session manager, and so on); other components
// reference these types by id, never by holding a pointer into another
// component's store.
package model

import "time"

// AgentStatus is a node in an agent's status state machine: Idle and Busy
// transition into each other; either can move to Offline or Error; Offline
// returns to Idle through a heartbeat or an explicit UpdateStatus, and Error
// only through UpdateStatus.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
	AgentError   AgentStatus = "error"
)

// legalAgentTransitions enumerates the directed status graph. A transition
// not present here fails with coorderr.CodeIllegalTransition.
var legalAgentTransitions = map[AgentStatus]map[AgentStatus]bool{
	AgentIdle:    {AgentBusy: true, AgentOffline: true, AgentError: true},
	AgentBusy:    {AgentIdle: true, AgentOffline: true, AgentError: true},
	AgentOffline: {AgentIdle: true},
	AgentError:   {AgentIdle: true},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to AgentStatus) bool {
	if from == to {
		return true
	}
	next, ok := legalAgentTransitions[from]
	return ok && next[to]
}

// PerformanceSnapshot tracks the rolling operational profile of an agent,
// consulted by the load balancer's LeastResponseTime and LeastConnections
// strategies.
type PerformanceSnapshot struct {
	AverageLatency    time.Duration
	SuccessfulTasks   uint64
	FailedTasks       uint64
	CurrentQueueDepth int
}

// Agent is a registered participant in the coordination core. It is created
// by Register and destroyed by Unregister; its Status is mutated by
// heartbeats and task dispatch.
type Agent struct {
	ID             string
	Name           string
	Type           string
	Capabilities   map[string]struct{}
	Status         AgentStatus
	Health         float64 // 0.0-1.0
	LastHeartbeat  time.Time
	Scope          string
	Performance    PerformanceSnapshot
	RegisteredAt   time.Time
}

// HasCapabilities reports whether a carries every capability in required.
func (a *Agent) HasCapabilities(required map[string]struct{}) bool {
	for cap := range required {
		if _, ok := a.Capabilities[cap]; !ok {
			return false
		}
	}
	return true
}

// Eligible reports whether the agent can currently be dispatched to: not
// Offline/Error. Circuit breaker state is checked separately by callers that
// hold a breaker reference, since Agent itself owns no breaker state.
func (a *Agent) Eligible() bool {
	return a.Status == AgentIdle || a.Status == AgentBusy
}
