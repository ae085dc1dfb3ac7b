package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/rhema-dev/coordination/model"
	"github.com/rhema-dev/coordination/pattern"
)

func runPattern(args []string) int {
	if len(args) == 0 {
		fail("pattern: missing subcommand")
		return exitValidationError
	}
	switch args[0] {
	case "execute":
		return runPatternExecute(args[1:])
	default:
		fail("pattern: unknown subcommand %q", args[0])
		return exitValidationError
	}
}

func runPatternExecute(args []string) int {
	fs := flag.NewFlagSet("pattern execute", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	sessionID := fs.String("session", "", "optional session id this execution is tied to")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fail("pattern execute: a pattern kind is required")
		return exitValidationError
	}
	kind := model.PatternKind(rest[0])

	config := map[string]any{}
	if len(rest) > 1 && rest[1] != "" {
		if err := json.Unmarshal([]byte(rest[1]), &config); err != nil {
			fail("pattern execute: invalid config JSON: %v", err)
			return exitValidationError
		}
	}

	def, err := builtinPattern(kind)
	if err != nil {
		fail("%v", err)
		return exitValidationError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	co, err := buildCoordinator(cfg, logger)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}

	exec, err := co.ExecutePattern(context.Background(), def, config, *sessionID)
	if exec != nil {
		printJSON(exec)
	}
	if err != nil {
		fail("%v", err)
		return exitCodeFor(err)
	}
	return exitSuccess
}

// genericDispatch dispatches phaseName's work to any eligible agent
// carrying capability, returning a small descriptive result. The
// coordination core never interprets what the dispatched work actually
// computes (see pattern.PhaseWork); a real deployment supplies its own
// phase logic instead of this placeholder.
func genericDispatch(phaseName, capability string) pattern.PhaseWork {
	return func(ctx context.Context, exec *model.PatternExecution, dispatcher pattern.AgentDispatcher) (any, error) {
		agentID, err := dispatcher.SelectAgent(ctx, []string{capability})
		if err != nil {
			return nil, err
		}
		return dispatcher.Invoke(ctx, agentID, func(context.Context) (any, error) {
			return map[string]string{"phase": phaseName, "agent": agentID}, nil
		})
	}
}

// genericAggregate collects the recorded outputs of the named phases into
// one summary, used for every pattern's final reporting/publishing phase.
func genericAggregate(names ...string) pattern.PhaseWork {
	return func(_ context.Context, exec *model.PatternExecution, _ pattern.AgentDispatcher) (any, error) {
		summary := make(map[string]any, len(names))
		for _, n := range names {
			summary[n] = exec.Outputs[n]
		}
		return summary, nil
	}
}

func resourceAmount(config map[string]any, key string, fallback int64) int64 {
	v, ok := config[key]
	if !ok {
		return fallback
	}
	f, ok := v.(float64) // encoding/json decodes numbers as float64
	if !ok {
		return fallback
	}
	return int64(f)
}

func builtinPattern(kind model.PatternKind) (pattern.Definition, error) {
	switch kind {
	case model.PatternCodeReview:
		return pattern.NewCodeReviewWorkflow(map[string]pattern.PhaseWork{
			"security-review":    genericDispatch("security-review", "review"),
			"performance-review": genericDispatch("performance-review", "review"),
			"style-review":       genericDispatch("style-review", "review"),
			"aggregate":          genericAggregate("security-review", "performance-review", "style-review"),
		}), nil

	case model.PatternTestGeneration:
		return pattern.NewTestGenerationWorkflow(map[string]pattern.PhaseWork{
			"strategy":        genericDispatch("strategy", "test-plan"),
			"unit-gen":        genericDispatch("unit-gen", "test-gen"),
			"integration-gen": genericDispatch("integration-gen", "test-gen"),
			"run":             genericDispatch("run", "test-run"),
			"report":          genericAggregate("strategy", "unit-gen", "integration-gen", "run"),
		}), nil

	case model.PatternResourceManagement:
		return pattern.NewResourceManagementPattern(
			map[string]pattern.PhaseWork{
				"plan":     genericDispatch("plan", "resource-plan"),
				"allocate": genericDispatch("allocate", "resource-plan"),
				"monitor":  genericDispatch("monitor", "resource-plan"),
			},
			func(config map[string]any) []pattern.ResourceRequest {
				return []pattern.ResourceRequest{
					{Namespace: "memory", Amount: resourceAmount(config, "memory", 64)},
					{Namespace: "cpu", Amount: resourceAmount(config, "cpu", 1)},
				}
			},
		), nil

	case model.PatternFileLockManagement:
		return pattern.NewFileLockManagementPattern(map[string]pattern.PhaseWork{
			"request": genericDispatch("request", "file-lock"),
			"acquire": genericDispatch("acquire", "file-lock"),
			"release": genericDispatch("release", "file-lock"),
		}), nil

	case model.PatternWorkflowOrchestration:
		return pattern.NewWorkflowOrchestrationPattern([]pattern.Phase{
			{Name: "execute", Kind: pattern.PhaseSequential, Capabilities: []string{"generic"}, Run: genericDispatch("execute", "generic")},
		}), nil

	case model.PatternStateSynchronization:
		return pattern.NewStateSynchronizationPattern(map[string]pattern.PhaseWork{
			"snapshot": genericDispatch("snapshot", "state-sync"),
			"diff":     genericDispatch("diff", "state-sync"),
			"merge":    genericDispatch("merge", "state-sync"),
			"publish":  genericAggregate("snapshot", "diff", "merge"),
		}), nil

	default:
		return pattern.Definition{}, fmt.Errorf("unknown pattern kind: %s", kind)
	}
}
