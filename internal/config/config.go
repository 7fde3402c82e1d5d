// Package config handles loading and validating Ngao configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Ngao.
type Config struct {
	WorkspaceRoot string               `json:"workspace_root,omitempty" yaml:"workspace_root,omitempty"` // Execution workspace root. Default: <tmp>/ngao. Override: NGAO_WORKSPACE_ROOT env var.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Engine        EngineConfig         `json:"engine" yaml:"engine"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Policy        *PolicyConfig        `json:"policy,omitempty" yaml:"policy,omitempty"`               // nil = built-in rule catalog.
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled.
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 2 MB.
	APIKeys             []string        `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`          // Empty = authentication disabled. Override: NGAO_API_KEY env var (single key).
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request body cap with a default of 2 MB.
func (s *ServerConfig) MaxRequestSize() int64 {
	if s != nil && s.MaxRequestSizeBytes > 0 {
		return s.MaxRequestSizeBytes
	}
	return 2 << 20
}

// AuthEnabled reports whether API key authentication is configured.
func (s *ServerConfig) AuthEnabled() bool {
	return s != nil && len(s.APIKeys) > 0
}

// RateLimitConfig configures per-caller rate limiting for the HTTP API.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = rate limiting disabled.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`                   // Default: RequestsPerMinute.
}

// EngineConfig configures execution pipeline limits.
type EngineConfig struct {
	DefaultTimeoutSeconds int `json:"default_timeout_seconds" yaml:"default_timeout_seconds"` // Default: 30.
	MaxTimeoutSeconds     int `json:"max_timeout_seconds" yaml:"max_timeout_seconds"`         // Default: 300. Requests above this are rejected.
	MaxScriptBytes        int `json:"max_script_bytes" yaml:"max_script_bytes"`               // Default: 1 MB.
	MaxConcurrent         int `json:"max_concurrent" yaml:"max_concurrent"`                   // 0 = unbounded.
}

// DefaultTimeout returns the default execution timeout with a default of 30s.
func (e *EngineConfig) DefaultTimeout() time.Duration {
	if e != nil && e.DefaultTimeoutSeconds > 0 {
		return time.Duration(e.DefaultTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// MaxTimeout returns the timeout ceiling with a default of 5m.
func (e *EngineConfig) MaxTimeout() time.Duration {
	if e != nil && e.MaxTimeoutSeconds > 0 {
		return time.Duration(e.MaxTimeoutSeconds) * time.Second
	}
	return 5 * time.Minute
}

// SandboxConfig configures the interpreter subprocess.
type SandboxConfig struct {
	Interpreter   string `json:"interpreter" yaml:"interpreter"`                     // "pwsh" (default) or "sh".
	Binary        string `json:"binary,omitempty" yaml:"binary,omitempty"`           // Interpreter executable. Default: the profile name. Override: NGAO_INTERPRETER_BINARY env var.
	MaxCPUSeconds int    `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`             // ulimit -t. Default: 60.
	MaxMemoryMB   int    `json:"max_memory_mb" yaml:"max_memory_mb"`                 // ulimit -v. Default: 512.
}

// PolicyConfig overrides or extends the built-in security rule catalog.
// When nil, the built-in catalog applies unchanged.
type PolicyConfig struct {
	DisabledRules []string         `json:"disabled_rules,omitempty" yaml:"disabled_rules,omitempty"` // Rule IDs to turn off.
	ExtraRules    []PolicyRuleSpec `json:"extra_rules,omitempty" yaml:"extra_rules,omitempty"`       // Operator-supplied additions.
}

// PolicyRuleSpec is one operator-defined screening rule.
type PolicyRuleSpec struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Severity    string `json:"severity" yaml:"severity"` // "warn" or "block". Default: "block".
	Pattern     string `json:"pattern" yaml:"pattern"`   // RE2 syntax, matched case-insensitively per line.
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "ngao"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeSandbox bool `json:"include_sandbox" yaml:"include_sandbox"` // Probe the interpreter and workspace root.
}

// AnomalyConfig configures threshold-based anomaly detection over execution
// outcomes.
type AnomalyConfig struct {
	Enabled              bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold   float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"`     // e.g. 0.5 = 50% failed executions
	TimeoutRateThreshold float64 `json:"timeout_rate_threshold" yaml:"timeout_rate_threshold"` // e.g. 0.25 = 25% timeouts
	WindowSeconds        int     `json:"window_seconds" yaml:"window_seconds"`                 // Sliding window. Default: 300
}

// Default returns a Config with every default applied, suitable for running
// without a config file. Environment overrides still apply.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{ListenAddr: ":8080"},
	}
	cfg.applyEnvOverrides()
	return cfg
}

// DefaultConfigPath returns the default config file path (~/.ngao/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/ngao.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".ngao", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Secrets and paths can be set in the config file or overridden
// by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides — env vars take
// precedence over config values.
func (c *Config) applyEnvOverrides() {
	if envWS := os.Getenv("NGAO_WORKSPACE_ROOT"); envWS != "" {
		c.WorkspaceRoot = envWS
	}
	if envAddr := os.Getenv("NGAO_LISTEN_ADDR"); envAddr != "" {
		c.Server.ListenAddr = envAddr
	}
	if envKey := os.Getenv("NGAO_API_KEY"); envKey != "" {
		c.Server.APIKeys = []string{envKey}
	}
	if envBin := os.Getenv("NGAO_INTERPRETER_BINARY"); envBin != "" {
		c.Sandbox.Binary = envBin
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func (c *Config) validate() error {
	if c.Engine.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("engine.default_timeout_seconds must not be negative")
	}
	if c.Engine.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("engine.max_timeout_seconds must not be negative")
	}
	if c.Engine.DefaultTimeout() > c.Engine.MaxTimeout() {
		return fmt.Errorf("engine.default_timeout_seconds exceeds engine.max_timeout_seconds")
	}
	if c.Engine.MaxConcurrent < 0 {
		return fmt.Errorf("engine.max_concurrent must not be negative")
	}
	if c.Sandbox.Interpreter != "" {
		switch c.Sandbox.Interpreter {
		case "pwsh", "sh":
			// valid
		default:
			return fmt.Errorf("sandbox.interpreter %q is not supported (use pwsh or sh)", c.Sandbox.Interpreter)
		}
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return fmt.Errorf("sandbox.max_memory_mb must not be negative")
	}
	if c.Sandbox.MaxCPUSeconds < 0 {
		return fmt.Errorf("sandbox.max_cpu_seconds must not be negative")
	}
	if rl := c.Server.RateLimit; rl.RequestsPerMinute < 0 || rl.BurstSize < 0 {
		return fmt.Errorf("server.rate_limit values must not be negative")
	}
	if c.Policy != nil {
		for i, rule := range c.Policy.ExtraRules {
			if rule.ID == "" {
				return fmt.Errorf("policy.extra_rules[%d].id is required", i)
			}
			if rule.Pattern == "" {
				return fmt.Errorf("policy.extra_rules[%d] (%q): pattern is required", i, rule.ID)
			}
			switch rule.Severity {
			case "", "warn", "block":
				// valid
			default:
				return fmt.Errorf("policy.extra_rules[%d] (%q): severity must be warn or block", i, rule.ID)
			}
		}
	}
	return nil
}
