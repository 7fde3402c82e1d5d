// Package engine executes untrusted script text in an isolated, time-bounded
// subprocess. The pipeline per request: marshal parameters → screen the
// script against the security policy → stage an isolated workspace → launch
// the interpreter in a constrained mode → supervise with a wall-clock
// deadline → classify the outcome. The workspace is released on every exit
// path before the result reaches the caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ngao-sh/ngao/internal/params"
	"github.com/ngao-sh/ngao/internal/policy"
	"github.com/ngao-sh/ngao/internal/workspace"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxTimeout = 300 * time.Second
	defaultMaxScript  = 1 << 20 // 1 MB
)

// Executor runs one execution request to a terminal result.
// Implemented by Engine and by observability wrappers.
type Executor interface {
	Execute(ctx context.Context, req Request) *Result
}

// Request is one immutable execution request.
type Request struct {
	Script        string
	Parameters    params.Params
	Timeout       time.Duration // Zero = engine default. Bounded by the engine maximum.
	CorrelationID string
}

// Config configures the execution engine.
type Config struct {
	DefaultTimeout time.Duration // Zero = 30s.
	MaxTimeout     time.Duration // Zero = 300s. Requests above this are rejected.
	MaxScriptBytes int           // Zero = 1 MB.
	MaxConcurrent  int           // Zero = unbounded. Bounds in-flight subprocesses.
}

// Engine is the sandboxed execution pipeline.
type Engine struct {
	cfg        Config
	workspaces *workspace.Manager
	policy     policy.Engine
	launcher   *Launcher
	supervisor *Supervisor
	logger     *slog.Logger
	sem        chan struct{} // nil = unbounded
}

// New creates an Engine. The policy engine may be nil to disable screening
// (tests only — production callers always pass one).
func New(cfg Config, ws *workspace.Manager, pol policy.Engine, launcher *Launcher, sup *Supervisor, logger *slog.Logger) *Engine {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = defaultMaxTimeout
	}
	if cfg.MaxScriptBytes <= 0 {
		cfg.MaxScriptBytes = defaultMaxScript
	}

	var sem chan struct{}
	if cfg.MaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.MaxConcurrent)
	}

	return &Engine{
		cfg:        cfg,
		workspaces: ws,
		policy:     pol,
		launcher:   launcher,
		supervisor: sup,
		logger:     logger,
		sem:        sem,
	}
}

// MaxTimeout returns the server-side timeout ceiling.
func (e *Engine) MaxTimeout() time.Duration { return e.cfg.MaxTimeout }

// CheckReady verifies the engine's dependencies: the interpreter binary
// resolves and the workspace root is stageable.
func (e *Engine) CheckReady(ctx context.Context) error {
	if err := e.launcher.CheckBinary(ctx); err != nil {
		return err
	}
	ws, err := e.workspaces.Stage("", e.launcher.ScriptExt())
	if err != nil {
		return fmt.Errorf("workspace root not writable: %w", err)
	}
	e.workspaces.Release(ws)
	return nil
}

// Execute runs one request to a terminal Result. It never returns nil and
// never panics across the subprocess boundary; every failure mode maps to a
// classified status.
func (e *Engine) Execute(ctx context.Context, req Request) *Result {
	start := time.Now()

	// Bounded concurrency, when configured. Callers queue here rather than
	// stacking unbounded subprocesses on the host.
	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			return Classify(nil, nil, nil, time.Since(start))
		}
	}

	// 1. Request validation. Rejected requests never spawn a subprocess.
	timeout, err := e.resolveTimeout(req.Timeout)
	if err == nil && req.Script == "" {
		err = &params.ValidationError{Reason: "scriptContent is required"}
	}
	if err == nil && len(req.Script) > e.cfg.MaxScriptBytes {
		err = &params.ValidationError{Reason: fmt.Sprintf("scriptContent exceeds %d bytes", e.cfg.MaxScriptBytes)}
	}
	var payload []byte
	if err == nil {
		payload, err = req.Parameters.Marshal()
	}
	if err != nil {
		res := Classify(nil, nil, err, time.Since(start))
		e.logResult(req, res)
		return res
	}

	// 2. Security screening. Fail closed on any blocking finding before the
	// script touches disk.
	var findings []policy.Finding
	if e.policy != nil {
		findings = e.policy.Evaluate(req.Script)
	}
	if policy.HasBlocking(findings) {
		res := Classify(nil, findings, nil, time.Since(start))
		e.logResult(req, res)
		return res
	}

	// 3. Stage the isolated workspace. Released on every exit path below;
	// release failures are logged inside the manager and never surface here.
	ws, stageErr := e.workspaces.Stage(req.Script, e.launcher.ScriptExt())
	if stageErr != nil {
		res := Classify(&Outcome{State: StateLaunchFailed, LaunchErr: stageErr}, findings, nil, time.Since(start))
		e.logResult(req, res)
		return res
	}
	defer e.workspaces.Release(ws)

	// 4. Build the launch spec (stages the harness for pwsh). The interpreter
	// binary is resolved here, before spawn: the ulimit shim means the process
	// the supervisor starts is /bin/sh, which starts fine even when the
	// interpreter is missing; the inner exec would then fail with exit 127
	// and masquerade as a script failure. A missing interpreter must stay a
	// launch failure.
	if binErr := e.launcher.CheckBinary(ctx); binErr != nil {
		res := Classify(&Outcome{State: StateLaunchFailed, LaunchErr: binErr}, findings, nil, time.Since(start))
		e.logResult(req, res)
		return res
	}
	spec, prepErr := e.launcher.Prepare(ws, payload, req.Parameters)
	if prepErr != nil {
		res := Classify(&Outcome{State: StateLaunchFailed, LaunchErr: prepErr}, findings, nil, time.Since(start))
		e.logResult(req, res)
		return res
	}

	e.logger.Info("executing script",
		slog.String("workspace_id", ws.ID),
		slog.String("correlation_id", req.CorrelationID),
		slog.Int("script_bytes", len(req.Script)),
		slog.Int("params", len(req.Parameters)),
		slog.Duration("timeout", timeout),
	)

	// 5. Supervise. The supervisor always reports a terminal outcome before
	// the deferred release runs, preserving the ordering guarantee.
	outcome := e.supervisor.Run(ctx, spec, timeout)

	// 6. Classify. Warn-level findings ride along for observability.
	res := Classify(outcome, findings, nil, outcome.Elapsed)
	e.logResult(req, res)
	return res
}

// resolveTimeout applies the default and enforces the server-side maximum.
func (e *Engine) resolveTimeout(requested time.Duration) (time.Duration, error) {
	if requested == 0 {
		return e.cfg.DefaultTimeout, nil
	}
	if requested < 0 {
		return 0, &params.ValidationError{Reason: "timeoutSeconds must be positive"}
	}
	if requested > e.cfg.MaxTimeout {
		return 0, &params.ValidationError{Reason: fmt.Sprintf("timeoutSeconds exceeds server maximum of %d", int(e.cfg.MaxTimeout.Seconds()))}
	}
	return requested, nil
}

func (e *Engine) logResult(req Request, res *Result) {
	attrs := []any{
		slog.String("status", string(res.Status)),
		slog.String("correlation_id", req.CorrelationID),
		slog.Float64("elapsed_seconds", res.ElapsedSeconds),
	}
	if res.ExitCode != nil {
		attrs = append(attrs, slog.Int("exit_code", *res.ExitCode))
	}
	if len(res.Findings) > 0 {
		attrs = append(attrs, slog.Int("findings", len(res.Findings)))
	}

	switch res.Status {
	case StatusSuccess:
		e.logger.Info("execution completed", attrs...)
	case StatusLaunchFailure:
		e.logger.Error("execution failed to launch", attrs...)
	default:
		e.logger.Warn("execution did not succeed", attrs...)
	}
}

// IsValidationError reports whether the error is a caller-fixable parameter
// or request validation failure.
func IsValidationError(err error) bool {
	var verr *params.ValidationError
	return errors.As(err, &verr)
}
