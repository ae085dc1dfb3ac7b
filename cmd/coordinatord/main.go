// Command coordinatord exposes the coordination core's agent, session,
// system, and pattern operations as a CLI.
//
// Usage:
//
//	coordinatord agent register --name worker-1 --type reviewer --capabilities review,lint
//	coordinatord session create --id sess-1 --topic "release review" --creator agent-1
//	coordinatord system health
//	coordinatord pattern execute code_review_workflow '{}'
package main

import (
	"fmt"
	"os"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	code := run()
	shutdownTelemetry()
	os.Exit(code)
}

func run() int {
	if len(os.Args) < 2 {
		printUsage()
		return exitValidationError
	}

	switch os.Args[1] {
	case "agent":
		return runAgent(os.Args[2:])
	case "session":
		return runSession(os.Args[2:])
	case "system":
		return runSystem(os.Args[2:])
	case "pattern":
		return runPattern(os.Args[2:])
	case "version":
		printVersion()
		return exitSuccess
	case "help", "-h", "--help":
		printUsage()
		return exitSuccess
	default:
		fail("unknown command: %s", os.Args[1])
		printUsage()
		return exitValidationError
	}
}

func printVersion() {
	fmt.Printf("coordinatord %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`coordinatord - Rhema coordination core CLI

Usage:
  coordinatord <group> <command> [options]

Agent commands:
  agent register       --name <n> --type <t> --capabilities <a,b,c> [--scope <s>] [--credential <token>]
  agent list            [--type <t>] [--status <idle|busy|offline|error>] [--capabilities <a,b,c>]
  agent unregister      --id <agent-id>
  agent status          --id <agent-id> --status <idle|busy|offline|error>
  agent info             --id <agent-id>
  agent send-message    --from <agent-id> --to <agent-id> --type <type> [--priority <p>] [--data <json>]
  agent broadcast        --from <agent-id> [--type-filter <t>] [--capabilities <a,b,c>] [--data <json>]

Session commands:
  session create        --id <sess-id> --topic <topic> --creator <agent-id> [--access <open|invite_only|capability_gated>]
  session list
  session join           --id <sess-id> --agent <agent-id> [--capabilities <a,b,c>]
  session leave          --id <sess-id> --agent <agent-id>
  session send-message   --id <sess-id> --from <agent-id> --type <type> [--data <json>]
  session info           --id <sess-id>

System commands:
  system stats
  system message-history
  system monitor         [--interval <duration>]
  system health

Pattern commands:
  pattern execute <kind> [config-json]
    kinds: code_review_workflow, test_generation_workflow, resource_management,
           file_lock_management, workflow_orchestration, state_synchronization

Every command accepts --config <path> to load a YAML configuration file.

Exit codes:
  0   success
  1   validation error (bad input)
  2   runtime error (the core rejected the operation)
  3   transport error (could not reach/build the core)
  130 cancelled (interrupt signal)`)
}
