package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/rhema-dev/coordination/audit"
	"github.com/rhema-dev/coordination/auth"
	"github.com/rhema-dev/coordination/balancer"
	"github.com/rhema-dev/coordination/breaker"
	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/config"
	"github.com/rhema-dev/coordination/coordinator"
	"github.com/rhema-dev/coordination/internal/telemetry"
	"github.com/rhema-dev/coordination/mailbox"
	"github.com/rhema-dev/coordination/metrics"
	"github.com/rhema-dev/coordination/resourcepool"
)

// activeTelemetry holds the OTel providers started by the first
// buildCoordinator call in this process, if telemetry is enabled. main
// shuts it down once, after the subcommand has returned.
var activeTelemetry *telemetry.Providers

// newConfigFlag registers the -config flag every subcommand accepts.
func newConfigFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "path to a YAML config file (defaults to built-in values)")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewLoader().WithConfigPath(path).WithEnvPrefix("RHEMA").Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// openAuditDB opens the sqlite database backing the audit store. Only
// sqlite is supported: the core's audit trail is an optional local side
// channel, not a production datastore with its own driver matrix.
func openAuditDB(cfg config.AuditConfig) (*gorm.DB, error) {
	if cfg.Driver != "" && cfg.Driver != "sqlite" {
		return nil, fmt.Errorf("unsupported audit driver: %s", cfg.Driver)
	}
	return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
}

// buildCoordinator wires a Coordinator from cfg, the same way for every
// subcommand. Each invocation gets its own registry, mailbox, and sessions:
// nothing here is shared with any other coordinatord process.
func buildCoordinator(cfg *config.Config, logger *zap.Logger) (*coordinator.Coordinator, error) {
	ccfg := coordinator.Config{
		MailboxCapacity:  cfg.Transport.MailboxCapacity,
		OverflowPolicy:   mailbox.OverflowPolicy(cfg.Transport.OverflowPolicy),
		BalancerStrategy: balancer.Strategy(cfg.Balancer.Strategy),
		Breaker: breaker.Config{
			FailureThreshold:   cfg.Breaker.FailureThreshold,
			OpenDuration:       time.Duration(cfg.Breaker.OpenDurationMS) * time.Millisecond,
			HalfOpenProbeLimit: cfg.Breaker.ProbeLimit,
		},
		ResourceCapacities: map[resourcepool.Namespace]int64{
			resourcepool.NamespaceMemory:  cfg.Resources.MemoryCapacity,
			resourcepool.NamespaceCPU:     cfg.Resources.CPUCapacity,
			resourcepool.NamespaceNetwork: cfg.Resources.NetworkCapacity,
		},
		HeartbeatInterval: time.Duration(cfg.Heartbeat.ExpectedIntervalMS) * time.Millisecond,
		MetricsNamespace:  "rhema_coordinatord",
		AlertThresholds: metrics.Thresholds{
			HighLatencyP99:           time.Duration(cfg.Metrics.HighLatencyP99MS) * time.Millisecond,
			QueueSaturationFraction:  cfg.Metrics.QueueSaturationFraction,
			CircuitOpenMultiplier:    cfg.Metrics.CircuitOpenMultiplier,
			ElectionTimeout:          time.Duration(cfg.Consensus.ElectionTimeoutMaxMS) * time.Millisecond,
			ConsensusStallMultiplier: cfg.Metrics.ConsensusStallMultiplier,
		},
		Logger: logger,
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.Secret == "" {
			return nil, fmt.Errorf("auth.enabled is true but auth.secret is empty")
		}
		ccfg.Authenticator = auth.NewAuthenticator([]byte(cfg.Auth.Secret), cfg.Auth.Issuer, logger)
	}

	if cfg.Audit.Enabled {
		db, err := openAuditDB(cfg.Audit)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		store, err := audit.Open(db, logger)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		ccfg.AuditStore = store
	}

	if activeTelemetry == nil {
		providers, err := telemetry.Init(cfg.Telemetry, logger)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		activeTelemetry = providers
	}

	return coordinator.New(clock.New(), ccfg), nil
}

// shutdownTelemetry flushes and closes the process-wide telemetry
// providers, if any were started. Called once from main before exit.
func shutdownTelemetry() {
	if activeTelemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = activeTelemetry.Shutdown(ctx)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
