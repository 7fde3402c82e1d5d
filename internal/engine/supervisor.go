package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

const (
	// maxOutputBytes caps stdout/stderr independently to prevent OOM from
	// chatty scripts. Excess output is discarded, not an error.
	maxOutputBytes = 1 << 20 // 1 MB

	// termGrace is the window between SIGTERM and SIGKILL when a timed-out
	// process is asked to exit and doesn't.
	termGrace = 2 * time.Second
)

// State tracks a single execution through its lifecycle.
// Pending → Launching → Running → {Completed | TimedOut | Canceled |
// LaunchFailed}. No transition skips Running once a process handle exists;
// TimedOut, Canceled, and LaunchFailed are terminal without a normal exit
// code.
type State string

const (
	StatePending      State = "pending"
	StateLaunching    State = "launching"
	StateRunning      State = "running"
	StateCompleted    State = "completed"
	StateTimedOut     State = "timed_out"
	StateCanceled     State = "canceled"
	StateLaunchFailed State = "launch_failed"
)

// Outcome is the supervisor's raw view of one subprocess run.
type Outcome struct {
	State     State
	ExitCode  *int // nil if the process never completed normally.
	Stdout    string
	Stderr    string
	TimedOut  bool
	Canceled  bool // Parent context canceled (caller went away) before exit.
	LaunchErr error // Interpreter missing, permission denied, etc.
	Elapsed   time.Duration
}

// Supervisor owns subprocess lifecycles: it wires output capture, enforces
// the wall-clock deadline, escalates termination, and measures elapsed time.
// The deadline here is authoritative; the launcher's ulimit CPU cap is a
// second, advisory layer underneath it.
type Supervisor struct {
	logger *slog.Logger
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Run executes the prepared launch spec bounded by timeout and always
// returns a terminal Outcome. Stdout and stderr are captured as independent
// size-capped streams; process exit and deadline expiry are two branches of
// the same wait, not separate racing timers.
func (s *Supervisor) Run(ctx context.Context, spec *LaunchSpec, timeout time.Duration) *Outcome {
	outcome := &Outcome{State: StatePending}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	if len(spec.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	// The child runs in its own process group so termination reaches every
	// process the script spawned, not just the interpreter.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// On deadline expiry: SIGTERM the group first so the script can flush
	// output, then escalate to SIGKILL if it lingers.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid := cmd.Process.Pid
		if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
			return err
		}
		go func() {
			time.Sleep(termGrace)
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}()
		return nil
	}
	// Unblocks Wait even if an orphaned grandchild keeps the output pipes open.
	cmd.WaitDelay = termGrace + time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	outcome.State = StateLaunching
	start := time.Now()

	if err := cmd.Start(); err != nil {
		outcome.State = StateLaunchFailed
		outcome.LaunchErr = err
		outcome.Elapsed = time.Since(start)
		s.logger.Error("subprocess launch failed",
			slog.String("binary", spec.Argv[0]),
			slog.String("error", err.Error()),
		)
		return outcome
	}

	outcome.State = StateRunning
	waitErr := cmd.Wait()

	outcome.Elapsed = time.Since(start)
	outcome.Stdout = stdoutBuf.String()
	outcome.Stderr = stderrBuf.String()

	// Context expiry takes precedence over whatever exit the kill produced:
	// the SIGTERM-induced exit status is not the script's own result.
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome.TimedOut = true
		outcome.State = StateTimedOut
		s.logger.Warn("subprocess timed out",
			slog.Duration("timeout", timeout),
			slog.Duration("elapsed", outcome.Elapsed),
		)
		return outcome
	case errors.Is(ctx.Err(), context.Canceled):
		// Caller went away mid-flight (HTTP client disconnect). Terminated
		// through the same signal path as a deadline.
		outcome.Canceled = true
		outcome.State = StateCanceled
		s.logger.Warn("subprocess canceled by caller",
			slog.Duration("elapsed", outcome.Elapsed),
		)
		return outcome
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			// Non-zero exit is a result, not an error.
			code := exitErr.ExitCode()
			outcome.ExitCode = &code
			outcome.State = StateCompleted
			return outcome
		}
		// I/O failure after a successful start — surfaced as launch failure
		// since the script's own outcome is unknowable.
		outcome.State = StateLaunchFailed
		outcome.LaunchErr = waitErr
		return outcome
	}

	zero := 0
	outcome.ExitCode = &zero
	outcome.State = StateCompleted
	return outcome
}

// limitedWriter wraps a writer and silently discards data past a byte limit.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	n := len(p)
	if n > lw.remaining {
		p = p[:lw.remaining]
	}
	written, err := lw.w.Write(p)
	lw.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
