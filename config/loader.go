// =============================================================================
// Coordination core configuration loader
// =============================================================================
// Unified config loading: defaults -> YAML file -> environment variables.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("coordinatord.yaml").
//	    WithEnvPrefix("RHEMA").
//	    Load()
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the coordination core's complete configuration, covering every
// recognized key: transport, codec, balancer, breaker, consensus,
// heartbeat, patterns, metrics alert thresholds, plus the ambient
// log/telemetry/auth/audit concerns.
type Config struct {
	Transport TransportConfig `yaml:"transport" env:"TRANSPORT"`
	Codec     CodecConfig     `yaml:"codec" env:"CODEC"`
	Balancer  BalancerConfig  `yaml:"balancer" env:"BALANCER"`
	Breaker   BreakerConfig   `yaml:"breaker" env:"BREAKER"`
	Consensus ConsensusConfig `yaml:"consensus" env:"CONSENSUS"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat" env:"HEARTBEAT"`
	Patterns  PatternsConfig  `yaml:"patterns" env:"PATTERNS"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
	Audit     AuditConfig     `yaml:"audit" env:"AUDIT"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Resources ResourcesConfig `yaml:"resources" env:"RESOURCES"`
}

// ResourcesConfig sets each resource pool namespace's total capacity.
type ResourcesConfig struct {
	MemoryCapacity  int64 `yaml:"memory_capacity" env:"MEMORY_CAPACITY"`
	CPUCapacity     int64 `yaml:"cpu_capacity" env:"CPU_CAPACITY"`
	NetworkCapacity int64 `yaml:"network_capacity" env:"NETWORK_CAPACITY"`
}

// TransportConfig parameterizes the mailbox hub.
type TransportConfig struct {
	MailboxCapacity int    `yaml:"mailbox_capacity" env:"MAILBOX_CAPACITY"`
	OverflowPolicy  string `yaml:"overflow_policy" env:"OVERFLOW_POLICY"` // drop_oldest_lower, reject_new, shed_low
}

// CodecConfig parameterizes the wire envelope codec.
type CodecConfig struct {
	Compression bool   `yaml:"compression" env:"COMPRESSION"`
	Encryption  string `yaml:"encryption" env:"ENCRYPTION"` // none, aes256gcm, chacha20poly1305, xchacha20poly1305
}

// BalancerConfig selects the default load-balancing strategy.
type BalancerConfig struct {
	Strategy string `yaml:"strategy" env:"STRATEGY"` // round_robin, least_connections, weighted_round_robin, least_response_time, capability_affinity
}

// BreakerConfig parameterizes every target's circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	OpenDurationMS   int `yaml:"open_duration_ms" env:"OPEN_DURATION_MS"`
	ProbeLimit       int `yaml:"probe_limit" env:"PROBE_LIMIT"`
}

// ConsensusConfig parameterizes election timing.
type ConsensusConfig struct {
	ElectionTimeoutMinMS int `yaml:"election_timeout_min_ms" env:"ELECTION_TIMEOUT_MIN_MS"`
	ElectionTimeoutMaxMS int `yaml:"election_timeout_max_ms" env:"ELECTION_TIMEOUT_MAX_MS"`
	HeartbeatIntervalMS  int `yaml:"heartbeat_interval_ms" env:"HEARTBEAT_INTERVAL_MS"`
}

// HeartbeatConfig parameterizes agent liveness detection.
type HeartbeatConfig struct {
	ExpectedIntervalMS int `yaml:"expected_interval_ms" env:"EXPECTED_INTERVAL_MS"` // misses demote at 3x
}

// PatternsConfig parameterizes pattern execution defaults.
type PatternsConfig struct {
	DefaultTimeoutMS int  `yaml:"default_timeout_ms" env:"DEFAULT_TIMEOUT_MS"`
	EnableRollback   bool `yaml:"enable_rollback" env:"ENABLE_ROLLBACK"`
	MaxRetries       int  `yaml:"max_retries" env:"MAX_RETRIES"`
}

// MetricsConfig carries the alert thresholds the monitor evaluates.
type MetricsConfig struct {
	HighLatencyP99MS          int     `yaml:"high_latency_p99_ms" env:"HIGH_LATENCY_P99_MS"`
	QueueSaturationFraction   float64 `yaml:"queue_saturation_fraction" env:"QUEUE_SATURATION_FRACTION"`
	CircuitOpenMultiplier     float64 `yaml:"circuit_open_multiplier" env:"CIRCUIT_OPEN_MULTIPLIER"`
	ConsensusStallMultiplier  float64 `yaml:"consensus_stall_multiplier" env:"CONSENSUS_STALL_MULTIPLIER"`
	EvaluationIntervalMS      int     `yaml:"evaluation_interval_ms" env:"EVALUATION_INTERVAL_MS"`
}

// AuthConfig parameterizes the JWT-based AgentAuthenticator.
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	Secret    string        `yaml:"secret" env:"SECRET"`
	Issuer    string        `yaml:"issuer" env:"ISSUER"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// AuditConfig parameterizes the optional non-durable-session audit store.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Driver  string `yaml:"driver" env:"DRIVER"` // sqlite
	DSN     string `yaml:"dsn" env:"DSN"`
}

// LogConfig parameterizes the zap logger.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig parameterizes the OTel SDK wiring in internal/telemetry.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// Loader
// =============================================================================

// Loader loads a Config from defaults, an optional YAML file, then
// environment variables, in that priority order (builder pattern).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader defaulting to the RHEMA env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RHEMA",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the optional YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation function run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds a Config: defaults, then YAML file (if any), then env vars,
// then validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads config from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads config from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks invariants Load's default validators don't already cover
// at the type level.
func (c *Config) Validate() error {
	var errs []string

	if c.Transport.MailboxCapacity <= 0 {
		errs = append(errs, "transport.mailbox_capacity must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, "breaker.failure_threshold must be positive")
	}
	if c.Consensus.ElectionTimeoutMinMS <= 0 || c.Consensus.ElectionTimeoutMaxMS < c.Consensus.ElectionTimeoutMinMS {
		errs = append(errs, "consensus.election_timeout range is invalid")
	}
	if c.Patterns.MaxRetries < 0 {
		errs = append(errs, "patterns.max_retries must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
