package engine

import (
	"time"

	"github.com/ngao-sh/ngao/internal/policy"
)

// Status classifies the outcome of one execution request.
type Status string

const (
	StatusSuccess           Status = "Success"
	StatusScriptError       Status = "ScriptError"
	StatusSecurityViolation Status = "SecurityViolation"
	StatusTimeout           Status = "Timeout"
	StatusLaunchFailure     Status = "LaunchFailure"
	StatusValidationError   Status = "ValidationError"
)

// Reserved sentinel exit codes. They let callers distinguish infrastructure
// failure from script failure without string-matching stderr, and they are
// the process exit status of `ngao run`. Scripts that complete keep their
// true exit code — sentinels only stand in when no process exit exists.
const (
	ExitValidation        = 2
	ExitTimeout           = 124
	ExitSecurityViolation = 125
	ExitLaunchFailure     = 126
)

// Result is what callers receive for an execution request.
// ExitCode is nil whenever the process never completed (timeout, launch
// failure, or a pre-spawn rejection).
type Result struct {
	Status         Status           `json:"status"`
	ExitCode       *int             `json:"exitCode,omitempty"`
	Stdout         string           `json:"stdout"`
	Stderr         string           `json:"stderr"`
	ElapsedSeconds float64          `json:"elapsedSeconds"`
	Findings       []policy.Finding `json:"findings,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// Classify maps a subprocess outcome (or a pre-spawn rejection) to a Result.
// Pure function. Priority order: ValidationError > SecurityViolation >
// LaunchFailure > Timeout > ScriptError > Success. Elapsed time is always
// reported, even on failure, to support caller-side SLA tracking.
//
// ScriptError carries the true process exit code, never a sentinel.
func Classify(outcome *Outcome, findings []policy.Finding, validationErr error, elapsed time.Duration) *Result {
	res := &Result{
		ElapsedSeconds: elapsed.Seconds(),
		Findings:       findings,
	}
	if outcome != nil {
		res.Stdout = outcome.Stdout
		res.Stderr = outcome.Stderr
	}

	switch {
	case validationErr != nil:
		res.Status = StatusValidationError
		res.Error = validationErr.Error()

	case policy.HasBlocking(findings):
		res.Status = StatusSecurityViolation
		res.Error = "script blocked by security policy"

	case outcome == nil:
		res.Status = StatusLaunchFailure
		res.Error = "no execution outcome"

	case outcome.LaunchErr != nil:
		res.Status = StatusLaunchFailure
		res.Error = outcome.LaunchErr.Error()

	case outcome.TimedOut:
		res.Status = StatusTimeout

	case outcome.Canceled:
		// Caller-initiated cancellation rides the timeout path: the run was
		// cut short from outside, and the SIGTERM-induced exit status must
		// not be mistaken for the script's own.
		res.Status = StatusTimeout
		res.Error = "execution canceled before completion"

	case outcome.ExitCode != nil && *outcome.ExitCode != 0:
		res.Status = StatusScriptError
		res.ExitCode = outcome.ExitCode

	default:
		res.Status = StatusSuccess
		res.ExitCode = outcome.ExitCode
	}

	return res
}

// SentinelExitCode returns the exit-code convention for this result: the
// script's own code when the process completed, a reserved sentinel
// otherwise.
func (r *Result) SentinelExitCode() int {
	switch r.Status {
	case StatusSuccess:
		return 0
	case StatusScriptError:
		if r.ExitCode != nil {
			return *r.ExitCode
		}
		return 1
	case StatusTimeout:
		return ExitTimeout
	case StatusSecurityViolation:
		return ExitSecurityViolation
	case StatusLaunchFailure:
		return ExitLaunchFailure
	case StatusValidationError:
		return ExitValidation
	}
	return 1
}
