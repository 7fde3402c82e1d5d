package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	goutils "github.com/jkaninda/go-utils"

	"github.com/ngao-sh/ngao/internal/config"
	"github.com/ngao-sh/ngao/internal/engine"
	"github.com/ngao-sh/ngao/internal/policy"
	"github.com/ngao-sh/ngao/internal/workspace"
)

// newLogger builds the JSON logger every command shares.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// loadConfig resolves and loads the configuration. The NGAO_CONFIG env var
// takes precedence over the flag. When the flag was left at its default and
// the default file does not exist, built-in defaults apply so the binary runs
// without any config file at all.
func loadConfig(path string, flagSet bool) (*config.Config, error) {
	resolved := goutils.Env("NGAO_CONFIG", path)

	if _, err := os.Stat(resolved); err != nil {
		if errors.Is(err, os.ErrNotExist) && !flagSet && os.Getenv("NGAO_CONFIG") == "" {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("config file %s: %w", resolved, err)
	}
	return config.Load(resolved)
}

// buildPolicy compiles the screening rule set from config. A nil policy
// section means the built-in catalog unchanged.
func buildPolicy(cfg *config.PolicyConfig) (policy.Engine, error) {
	if cfg == nil {
		return policy.Default(), nil
	}

	extras := make([]policy.Rule, 0, len(cfg.ExtraRules))
	for _, spec := range cfg.ExtraRules {
		rule, err := policy.ParseRule(spec.ID, spec.Description, spec.Severity, spec.Pattern)
		if err != nil {
			return nil, err
		}
		extras = append(extras, rule)
	}
	return policy.Compile(cfg.DisabledRules, extras), nil
}

// buildEngine wires the execution pipeline: workspace manager, policy,
// launcher, supervisor. The compiled policy is returned alongside the engine
// so other surfaces (the scan endpoint) enforce the same rule set.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, policy.Engine, error) {
	wsm, err := workspace.NewManager(cfg.WorkspaceRoot, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing workspace manager: %w", err)
	}
	logger.Debug("workspace manager initialized", slog.String("root", wsm.Root()))

	pol, err := buildPolicy(cfg.Policy)
	if err != nil {
		return nil, nil, fmt.Errorf("compiling security policy: %w", err)
	}

	launcher, err := engine.NewLauncher(engine.LauncherConfig{
		Interpreter: cfg.Sandbox.Interpreter,
		Binary:      cfg.Sandbox.Binary,
		Limits: engine.ResourceLimits{
			MaxCPUSeconds: cfg.Sandbox.MaxCPUSeconds,
			MaxMemoryMB:   cfg.Sandbox.MaxMemoryMB,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing launcher: %w", err)
	}

	eng := engine.New(engine.Config{
		DefaultTimeout: cfg.Engine.DefaultTimeout(),
		MaxTimeout:     cfg.Engine.MaxTimeout(),
		MaxScriptBytes: cfg.Engine.MaxScriptBytes,
		MaxConcurrent:  cfg.Engine.MaxConcurrent,
	}, wsm, pol, launcher, engine.NewSupervisor(logger), logger)

	logger.Debug("engine initialized",
		slog.String("script_ext", launcher.ScriptExt()),
		slog.Duration("default_timeout", cfg.Engine.DefaultTimeout()),
		slog.Duration("max_timeout", cfg.Engine.MaxTimeout()),
		slog.Int("max_concurrent", cfg.Engine.MaxConcurrent),
	)
	return eng, pol, nil
}

// readScript reads script text from a file path, or from stdin when the path
// is "-".
func readScript(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading script from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading script %s: %w", path, err)
	}
	return string(data), nil
}
