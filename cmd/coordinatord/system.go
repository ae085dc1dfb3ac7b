package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/registry"
)

func runSystem(args []string) int {
	if len(args) == 0 {
		fail("system: missing subcommand")
		return exitValidationError
	}
	switch args[0] {
	case "stats":
		return runSystemStats(args[1:])
	case "message-history":
		return runSystemMessageHistory(args[1:])
	case "monitor":
		return runSystemMonitor(args[1:])
	case "health":
		return runSystemHealth(args[1:])
	default:
		fail("system: unknown subcommand %q", args[0])
		return exitValidationError
	}
}

func runSystemStats(args []string) int {
	fs := flag.NewFlagSet("system stats", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
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

	printJSON(map[string]any{
		"agents":    len(co.QueryAgents(registry.Filter{})),
		"sessions":  len(co.ListSessions()),
		"resources": co.ResourceSnapshot(),
		"health":    co.Health(),
	})
	return exitSuccess
}

func runSystemMessageHistory(args []string) int {
	fs := flag.NewFlagSet("system message-history", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	limit := fs.Int("limit", 0, "maximum entries to return (0 means all retained)")
	if err := fs.Parse(args); err != nil {
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

	// A freshly built Coordinator has no history yet: each coordinatord
	// invocation is its own process, so this only ever reflects traffic
	// generated within this single command's own lifetime.
	printJSON(co.MessageHistory(*limit))
	return exitSuccess
}

func runSystemMonitor(args []string) int {
	fs := flag.NewFlagSet("system monitor", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	interval := fs.String("interval", "5s", "alert evaluation interval")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	d, err := time.ParseDuration(*interval)
	if err != nil {
		fail("system monitor: invalid --interval: %v", err)
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

	co.Start(d)
	logger.Info("monitoring started, press Ctrl+C to stop", zap.String("interval", d.String()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case sig := <-quit:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			co.Shutdown(context.Background(), 5*time.Second)
			return exitCancelled
		case <-ticker.C:
			alerts := co.Alerts()
			for _, a := range alerts {
				logger.Warn("alert fired",
					zap.String("name", string(a.Name)),
					zap.String("component", a.Component),
					zap.String("severity", string(a.Severity)),
					zap.String("message", a.Message),
				)
			}
		}
	}
}

func runSystemHealth(args []string) int {
	fs := flag.NewFlagSet("system health", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
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

	printJSON(co.Health())
	return exitSuccess
}
