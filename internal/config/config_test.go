package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "ngao.yaml", `
workspace_root: /var/lib/ngao
server:
  listen_addr: ":9090"
  api_keys: ["k1", "k2"]
  rate_limit:
    requests_per_minute: 60
    burst_size: 10
engine:
  default_timeout_seconds: 15
  max_timeout_seconds: 120
  max_concurrent: 8
sandbox:
  interpreter: pwsh
  max_memory_mb: 256
observability:
  metrics:
    enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkspaceRoot != "/var/lib/ngao" {
		t.Errorf("workspace_root = %q", cfg.WorkspaceRoot)
	}
	if cfg.Server.Addr() != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if !cfg.Server.AuthEnabled() || len(cfg.Server.APIKeys) != 2 {
		t.Errorf("api_keys = %v", cfg.Server.APIKeys)
	}
	if got := cfg.Engine.DefaultTimeout(); got != 15*time.Second {
		t.Errorf("default timeout = %v", got)
	}
	if got := cfg.Engine.MaxTimeout(); got != 2*time.Minute {
		t.Errorf("max timeout = %v", got)
	}
	if cfg.Sandbox.Interpreter != "pwsh" {
		t.Errorf("interpreter = %q", cfg.Sandbox.Interpreter)
	}
	if cfg.Observability == nil || cfg.Observability.Metrics == nil || !cfg.Observability.Metrics.Enabled {
		t.Error("observability.metrics not parsed")
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "ngao.json", `{
		"server": {"listen_addr": ":8088"},
		"engine": {"max_timeout_seconds": 60}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != ":8088" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if cfg.Observability != nil {
		t.Error("observability should be nil when absent")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "empty.yaml", "{}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if cfg.Server.MaxRequestSize() != 2<<20 {
		t.Errorf("max request size = %d", cfg.Server.MaxRequestSize())
	}
	if cfg.Server.AuthEnabled() {
		t.Error("auth should be disabled with no keys")
	}
	if got := cfg.Engine.DefaultTimeout(); got != 30*time.Second {
		t.Errorf("default timeout = %v", got)
	}
	if got := cfg.Engine.MaxTimeout(); got != 5*time.Minute {
		t.Errorf("max timeout = %v", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NGAO_WORKSPACE_ROOT", "/srv/ngao-ws")
	t.Setenv("NGAO_API_KEY", "env-key")
	t.Setenv("NGAO_LISTEN_ADDR", ":7070")

	path := writeConfig(t, "ngao.yaml", `
workspace_root: /from/file
server:
  listen_addr: ":9090"
  api_keys: ["file-key"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkspaceRoot != "/srv/ngao-ws" {
		t.Errorf("workspace_root = %q, env var should win", cfg.WorkspaceRoot)
	}
	if cfg.Server.Addr() != ":7070" {
		t.Errorf("addr = %q, env var should win", cfg.Server.Addr())
	}
	if len(cfg.Server.APIKeys) != 1 || cfg.Server.APIKeys[0] != "env-key" {
		t.Errorf("api_keys = %v, env var should win", cfg.Server.APIKeys)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"default above max timeout", "engine:\n  default_timeout_seconds: 600\n  max_timeout_seconds: 60\n"},
		{"unknown interpreter", "sandbox:\n  interpreter: python\n"},
		{"negative memory", "sandbox:\n  max_memory_mb: -1\n"},
		{"extra rule without pattern", "policy:\n  extra_rules:\n    - id: X1\n"},
		{"extra rule bad severity", "policy:\n  extra_rules:\n    - id: X1\n      pattern: foo\n      severity: fatal\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "bad.yaml", tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
