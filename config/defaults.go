// =============================================================================
// Coordination core default configuration
// =============================================================================
// Provides sane defaults for every configuration key, matching the spec's
// documented default values.
// =============================================================================
package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Transport: DefaultTransportConfig(),
		Codec:     DefaultCodecConfig(),
		Balancer:  DefaultBalancerConfig(),
		Breaker:   DefaultBreakerConfig(),
		Consensus: DefaultConsensusConfig(),
		Heartbeat: DefaultHeartbeatConfig(),
		Patterns:  DefaultPatternsConfig(),
		Metrics:   DefaultMetricsConfig(),
		Auth:      DefaultAuthConfig(),
		Audit:     DefaultAuditConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Resources: DefaultResourcesConfig(),
	}
}

// DefaultResourcesConfig returns generous single-host resource pool
// capacities, large enough that a default deployment never trips
// CodeInsufficientResources without the operator having configured a real
// budget.
func DefaultResourcesConfig() ResourcesConfig {
	return ResourcesConfig{
		MemoryCapacity:  1 << 20,
		CPUCapacity:     1024,
		NetworkCapacity: 1024,
	}
}

// DefaultTransportConfig returns the default mailbox transport settings.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MailboxCapacity: 1024,
		OverflowPolicy:  "drop_oldest_lower",
	}
}

// DefaultCodecConfig returns the default wire codec settings.
func DefaultCodecConfig() CodecConfig {
	return CodecConfig{
		Compression: false,
		Encryption:  "none",
	}
}

// DefaultBalancerConfig returns the default load-balancing strategy.
func DefaultBalancerConfig() BalancerConfig {
	return BalancerConfig{
		Strategy: "least_connections",
	}
}

// DefaultBreakerConfig returns the default circuit breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenDurationMS:   30000,
		ProbeLimit:       1,
	}
}

// DefaultConsensusConfig returns the default consensus election timing.
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		ElectionTimeoutMinMS: 150,
		ElectionTimeoutMaxMS: 300,
		HeartbeatIntervalMS:  50,
	}
}

// DefaultHeartbeatConfig returns the default agent liveness settings.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		ExpectedIntervalMS: 1000,
	}
}

// DefaultPatternsConfig returns the default pattern execution settings.
func DefaultPatternsConfig() PatternsConfig {
	return PatternsConfig{
		DefaultTimeoutMS: 3_600_000,
		EnableRollback:   true,
		MaxRetries:       3,
	}
}

// DefaultMetricsConfig returns the default alert thresholds: p99 > 2s,
// mailbox depth > 80% capacity, circuit Open for > 5x its OpenDuration,
// no consensus commit for > 10x the election timeout.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		HighLatencyP99MS:         2000,
		QueueSaturationFraction:  0.8,
		CircuitOpenMultiplier:    5,
		ConsensusStallMultiplier: 10,
		EvaluationIntervalMS:     5000,
	}
}

// DefaultAuthConfig returns the default JWT authentication settings. Auth is
// disabled by default so a local coordinator can run without provisioning a
// signing secret; deployments that enable it must set one explicitly.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:  false,
		Issuer:   "rhema-coordinator",
		TokenTTL: time.Hour,
	}
}

// DefaultAuditConfig returns the default non-durable audit store settings.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled: false,
		Driver:  "sqlite",
		DSN:     "file::memory:?cache=shared",
	}
}

// DefaultLogConfig returns the default zap logger settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default OTel SDK settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "rhema-coordinator",
		SampleRate:   0.1,
	}
}
