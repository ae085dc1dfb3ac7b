package model

import "time"

// PatternKind names one of the six declared coordination patterns.
type PatternKind string

const (
	PatternCodeReview         PatternKind = "code_review_workflow"
	PatternTestGeneration     PatternKind = "test_generation_workflow"
	PatternResourceManagement PatternKind = "resource_management"
	PatternFileLockManagement PatternKind = "file_lock_management"
	PatternWorkflowOrchestration PatternKind = "workflow_orchestration"
	PatternStateSynchronization  PatternKind = "state_synchronization"
)

// ExecutionStatus names a position in the pattern execution state machine.
// Initializing -> Running(phase) -> (Awaiting(dep) <-> Running) -> Succeeded
// or Failed; RollingBack is reachable from Running or Awaiting only.
type ExecutionStatus string

const (
	ExecInitializing ExecutionStatus = "initializing"
	ExecRunning      ExecutionStatus = "running"
	ExecAwaiting     ExecutionStatus = "awaiting"
	ExecRollingBack  ExecutionStatus = "rolling_back"
	ExecSucceeded    ExecutionStatus = "succeeded"
	ExecFailed       ExecutionStatus = "failed"
)

// Terminal reports whether no further phase transition is permitted.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecSucceeded || s == ExecFailed
}

// PhaseTiming records the start/end of one executed phase.
type PhaseTiming struct {
	Phase     int
	Name      string
	StartedAt time.Time
	EndedAt   time.Time
}

// ResourceReservation records one outstanding hold against the resource
// pool, attributed to the pattern execution that owns it.
type ResourceReservation struct {
	Namespace   string // "memory", "cpu", "network", or a custom key
	Amount      int64
	ExecutionID string
}

// ExecutionContext snapshots the inputs a pattern execution runs against:
// the agent handles it was dispatched to, its resource reservations, and
// pattern-specific configuration.
type ExecutionContext struct {
	AgentIDs      []string
	Reservations  []ResourceReservation
	Configuration map[string]any
}

// PatternExecution is one running or completed instance of a coordination
// pattern. Once Succeeded or Failed it accepts no further phase transitions;
// RollingBack is only reachable from Running or Awaiting.
type PatternExecution struct {
	ID              string
	Kind            PatternKind
	SessionID       string // optional; empty if not tied to a session
	Context         ExecutionContext
	Status          ExecutionStatus
	PhaseIndex      int
	AwaitingOn      string // set when Status == ExecAwaiting
	FailureReason   string // set when Status == ExecFailed
	Progress        float64 // [0,1]
	Phases          []PhaseTiming
	Outputs         map[string]any
	Metadata        map[string]string
	StartedAt       time.Time
	EndedAt         time.Time
}
