// Package pattern implements the Pattern Executor: validated,
// resource-reserved, phase-structured multi-agent workflows with
// configurable recovery on phase failure.
package pattern

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

// PhaseKind names how a phase relates to the phases around it.
type PhaseKind int

const (
	PhaseSequential PhaseKind = iota
	PhaseParallel
	PhaseConditional
)

// ResourceRequest is one namespace's requested reservation amount, as seen
// from the pattern executor's side of the narrow ResourcePool interface
// (decoupled from resourcepool.Request so this package never imports
// resourcepool directly).
type ResourceRequest struct {
	Namespace string
	Amount    int64
}

// ResourcePool is the narrow view of the Resource Pool a pattern execution
// needs: atomic multi-namespace reservation and idempotent release.
type ResourcePool interface {
	TryReserve(id, owner string, reqs []ResourceRequest) error
	Release(id string) error
}

// AgentDispatcher is the narrow view of load-balanced, circuit-protected
// dispatch a phase needs: pick an eligible agent, then invoke work against
// it under that agent's circuit breaker.
type AgentDispatcher interface {
	SelectAgent(ctx context.Context, required []string) (string, error)
	Invoke(ctx context.Context, agentID string, work func(context.Context) (any, error)) (any, error)
}

// Phase is one unit of work in a pattern's phase contract.
type Phase struct {
	Name         string
	Kind         PhaseKind
	DependsOn    []string
	Capabilities []string // passed to AgentDispatcher.SelectAgent
	// Condition gates whether a PhaseConditional phase runs at all, given
	// the accumulated outputs of every phase that ran before it. Ignored
	// for non-conditional phases.
	Condition func(outputs map[string]any) bool
	// Run executes the phase's work, returning its contribution to the
	// pattern's accumulated output tree.
	Run func(ctx context.Context, exec *model.PatternExecution, dispatcher AgentDispatcher) (any, error)
	// Compensate reverses Run's effects; invoked in reverse phase order
	// when RecoveryMode is Rollback and a later phase fails.
	Compensate func(ctx context.Context, exec *model.PatternExecution, dispatcher AgentDispatcher) error
}

// RecoveryMode names how a pattern execution responds to a phase failure.
type RecoveryMode int

const (
	RecoveryAbort RecoveryMode = iota
	RecoveryRetry
	RecoveryRollback
)

// Definition declares one pattern kind's full contract: its phases,
// parameter validation, resource needs, and failure recovery mode.
type Definition struct {
	Kind            model.PatternKind
	Phases          []Phase
	Validate        func(config map[string]any) error
	ResourceRequest func(config map[string]any) []ResourceRequest
	Recovery        RecoveryMode
	RetryLimit      int // used only when Recovery == RecoveryRetry
}

// EventRecorder is the metrics hook the executor calls into.
type EventRecorder interface {
	RecordPatternStarted(kind model.PatternKind)
	RecordPatternSucceeded(kind model.PatternKind, d time.Duration)
	RecordPatternFailed(kind model.PatternKind, reason string)
}

type noopRecorder struct{}

func (noopRecorder) RecordPatternStarted(model.PatternKind)                 {}
func (noopRecorder) RecordPatternSucceeded(model.PatternKind, time.Duration) {}
func (noopRecorder) RecordPatternFailed(model.PatternKind, string)          {}

// Executor runs pattern Definitions to completion, one PatternExecution at
// a time per call to Execute, tracking live executions so Observe/Cancel
// can reach them.
type Executor struct {
	mu         sync.RWMutex
	executions map[string]*running

	pool       ResourcePool
	dispatcher AgentDispatcher
	clock      clock.Clock
	recorder   EventRecorder
	logger     *zap.Logger
}

type running struct {
	exec   *model.PatternExecution
	cancel context.CancelFunc
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithEventRecorder overrides the default no-op EventRecorder.
func WithEventRecorder(rec EventRecorder) Option {
	return func(e *Executor) { e.recorder = rec }
}

// New builds an Executor backed by pool for reservations and dispatcher
// for agent selection/invocation.
func New(pool ResourcePool, dispatcher AgentDispatcher, clk clock.Clock, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		executions: make(map[string]*running),
		pool:       pool,
		dispatcher: dispatcher,
		clock:      clk,
		recorder:   noopRecorder{},
		logger:     logger.With(zap.String("component", "pattern")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates config, reserves resources, and runs def's phases to
// completion (or failure), returning the final PatternExecution.
func (e *Executor) Execute(ctx context.Context, def Definition, config map[string]any, sessionID string) (*model.PatternExecution, error) {
	if def.Validate != nil {
		if err := def.Validate(config); err != nil {
			return nil, coorderr.New(coorderr.CodeInvalidConfiguration, "pattern configuration failed validation").
				WithCause(err).WithTarget(string(def.Kind))
		}
	}

	id := clock.NewID(clock.KindPattern)
	if def.ResourceRequest != nil {
		if reqs := def.ResourceRequest(config); len(reqs) > 0 {
			if err := e.pool.TryReserve(id, id, reqs); err != nil {
				return nil, err
			}
		}
	}

	waves, err := TopologicalWaves(def.Phases)
	if err != nil {
		_ = e.pool.Release(id)
		return nil, err
	}

	execCtx, cancel := context.WithCancel(ctx)
	exec := &model.PatternExecution{
		ID:        id,
		Kind:      def.Kind,
		SessionID: sessionID,
		Status:    model.ExecRunning,
		Outputs:   make(map[string]any),
		StartedAt: e.clock.Now(),
		Context:   model.ExecutionContext{Configuration: config},
	}
	e.mu.Lock()
	e.executions[id] = &running{exec: exec, cancel: cancel}
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.executions, id)
		e.mu.Unlock()
	}()

	e.recorder.RecordPatternStarted(def.Kind)
	e.logger.Info("pattern execution started", zap.String("execution_id", id), zap.String("kind", string(def.Kind)))

	var completed []Phase
	failErr := e.runWaves(execCtx, exec, def, waves, &completed)

	e.mu.Lock()
	exec.EndedAt = e.clock.Now()
	e.mu.Unlock()

	if failErr != nil {
		if def.Recovery == RecoveryRollback {
			e.rollback(ctx, exec, completed)
			exec.Status = model.ExecFailed
			exec.FailureReason = "rolled_back: " + failErr.Error()
		} else {
			exec.Status = model.ExecFailed
			exec.FailureReason = failErr.Error()
		}
		_ = e.pool.Release(id)
		e.recorder.RecordPatternFailed(def.Kind, exec.FailureReason)
		return exec, failErr
	}

	exec.Status = model.ExecSucceeded
	exec.Progress = 1.0
	_ = e.pool.Release(id)
	e.recorder.RecordPatternSucceeded(def.Kind, exec.EndedAt.Sub(exec.StartedAt))
	return exec, nil
}

func (e *Executor) runWaves(ctx context.Context, exec *model.PatternExecution, def Definition, waves [][]Phase, completed *[]Phase) error {
	for waveIdx, wave := range waves {
		active := wave[:0:0]
		for _, ph := range wave {
			if ph.Kind == PhaseConditional && ph.Condition != nil {
				e.mu.Lock()
				outputsCopy := cloneOutputs(exec.Outputs)
				e.mu.Unlock()
				if !ph.Condition(outputsCopy) {
					continue
				}
			}
			active = append(active, ph)
		}

		parallelPhases, sequentialPhases := partitionByKind(active)

		if len(parallelPhases) > 0 {
			g, gctx := errgroup.WithContext(ctx)
			results := make([]any, len(parallelPhases))
			for i, ph := range parallelPhases {
				i, ph := i, ph
				g.Go(func() error {
					out, err := e.runPhase(gctx, exec, ph, def)
					if err != nil {
						return err
					}
					results[i] = out
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			for i, ph := range parallelPhases {
				e.recordOutput(exec, ph.Name, results[i])
				*completed = append(*completed, ph)
			}
		}

		for _, ph := range sequentialPhases {
			out, err := e.runPhase(ctx, exec, ph, def)
			if err != nil {
				return err
			}
			e.recordOutput(exec, ph.Name, out)
			*completed = append(*completed, ph)
		}

		e.mu.Lock()
		exec.PhaseIndex = waveIdx + 1
		exec.Progress = float64(waveIdx+1) / float64(len(waves))
		exec.Phases = append(exec.Phases, model.PhaseTiming{Phase: waveIdx, Name: waveName(wave), EndedAt: e.clock.Now()})
		e.mu.Unlock()
	}
	return nil
}

func (e *Executor) runPhase(ctx context.Context, exec *model.PatternExecution, ph Phase, def Definition) (any, error) {
	attempts := 1
	if def.Recovery == RecoveryRetry && def.RetryLimit > 0 {
		attempts = def.RetryLimit + 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		out, err := ph.Run(ctx, exec, e.dispatcher)
		if err == nil {
			return out, nil
		}
		lastErr = err
		e.logger.Warn("pattern phase failed", zap.String("execution_id", exec.ID), zap.String("phase", ph.Name),
			zap.Int("attempt", i+1), zap.Error(err))
	}
	return nil, coorderr.New(coorderr.CodePhaseFailed, "phase failed").WithCause(lastErr).WithTarget(ph.Name)
}

func (e *Executor) rollback(ctx context.Context, exec *model.PatternExecution, completed []Phase) {
	e.mu.Lock()
	exec.Status = model.ExecRollingBack
	e.mu.Unlock()
	for i := len(completed) - 1; i >= 0; i-- {
		ph := completed[i]
		if ph.Compensate == nil {
			continue
		}
		if err := ph.Compensate(ctx, exec, e.dispatcher); err != nil {
			e.logger.Error("compensating action failed", zap.String("execution_id", exec.ID),
				zap.String("phase", ph.Name), zap.Error(err))
		}
	}
}

func (e *Executor) recordOutput(exec *model.PatternExecution, name string, out any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec.Outputs[name] = out
}

func partitionByKind(wave []Phase) (parallel, sequential []Phase) {
	for _, ph := range wave {
		if ph.Kind == PhaseParallel {
			parallel = append(parallel, ph)
		} else {
			sequential = append(sequential, ph)
		}
	}
	return parallel, sequential
}

func waveName(wave []Phase) string {
	if len(wave) == 1 {
		return wave[0].Name
	}
	out := ""
	for i, ph := range wave {
		if i > 0 {
			out += "+"
		}
		out += ph.Name
	}
	return out
}

func cloneOutputs(outputs map[string]any) map[string]any {
	out := make(map[string]any, len(outputs))
	for k, v := range outputs {
		out[k] = v
	}
	return out
}

// Observe returns a snapshot of execution id's current progress.
func (e *Executor) Observe(id string) (model.PatternExecution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.executions[id]
	if !ok {
		return model.PatternExecution{}, coorderr.New(coorderr.CodeUnknownAgent, "unknown pattern execution").WithTarget(id)
	}
	return *r.exec, nil
}

// Cancel requests id's execution stop at its next checkpoint.
func (e *Executor) Cancel(id string) error {
	e.mu.RLock()
	r, ok := e.executions[id]
	e.mu.RUnlock()
	if !ok {
		return coorderr.New(coorderr.CodeUnknownAgent, "unknown pattern execution").WithTarget(id)
	}
	r.cancel()
	return nil
}
