package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/ngao-sh/ngao/internal/policy"
)

func intPtr(n int) *int { return &n }

func blockFinding() []policy.Finding {
	return []policy.Finding{{PatternID: "PS001", Severity: policy.SeverityBlock, Line: 1}}
}

func TestClassify_PriorityOrder(t *testing.T) {
	verr := errors.New("bad parameter")
	launchErr := errors.New("binary not found")

	tests := []struct {
		name          string
		outcome       *Outcome
		findings      []policy.Finding
		validationErr error
		want          Status
	}{
		{
			name:          "validation beats security",
			findings:      blockFinding(),
			validationErr: verr,
			want:          StatusValidationError,
		},
		{
			name:     "security beats launch failure",
			outcome:  &Outcome{State: StateLaunchFailed, LaunchErr: launchErr},
			findings: blockFinding(),
			want:     StatusSecurityViolation,
		},
		{
			name:    "launch failure beats timeout",
			outcome: &Outcome{State: StateLaunchFailed, LaunchErr: launchErr, TimedOut: true},
			want:    StatusLaunchFailure,
		},
		{
			name:    "timeout beats script error",
			outcome: &Outcome{State: StateTimedOut, TimedOut: true, ExitCode: intPtr(137)},
			want:    StatusTimeout,
		},
		{
			name:    "cancellation beats script error",
			outcome: &Outcome{State: StateCanceled, Canceled: true, ExitCode: intPtr(-1)},
			want:    StatusTimeout,
		},
		{
			name:    "non-zero exit is script error",
			outcome: &Outcome{State: StateCompleted, ExitCode: intPtr(3)},
			want:    StatusScriptError,
		},
		{
			name:    "zero exit is success",
			outcome: &Outcome{State: StateCompleted, ExitCode: intPtr(0)},
			want:    StatusSuccess,
		},
		{
			name: "nil outcome without findings is launch failure",
			want: StatusLaunchFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(tt.outcome, tt.findings, tt.validationErr, time.Second)
			if res.Status != tt.want {
				t.Errorf("status = %s, want %s", res.Status, tt.want)
			}
			if res.ElapsedSeconds != 1.0 {
				t.Errorf("elapsedSeconds = %v, want 1.0", res.ElapsedSeconds)
			}
		})
	}
}

func TestClassify_ScriptErrorPropagatesTrueExitCode(t *testing.T) {
	res := Classify(&Outcome{State: StateCompleted, ExitCode: intPtr(42)}, nil, nil, 0)
	if res.Status != StatusScriptError {
		t.Fatalf("status = %s, want ScriptError", res.Status)
	}
	if res.ExitCode == nil || *res.ExitCode != 42 {
		t.Errorf("exitCode = %v, want 42", res.ExitCode)
	}
	if res.SentinelExitCode() != 42 {
		t.Errorf("sentinel = %d, want 42", res.SentinelExitCode())
	}
}

func TestClassify_TimeoutHasNoExitCode(t *testing.T) {
	res := Classify(&Outcome{State: StateTimedOut, TimedOut: true, Stdout: "partial"}, nil, nil, 0)
	if res.Status != StatusTimeout {
		t.Fatalf("status = %s, want Timeout", res.Status)
	}
	if res.ExitCode != nil {
		t.Errorf("exitCode = %v, want nil", *res.ExitCode)
	}
	if res.Stdout != "partial" {
		t.Errorf("stdout = %q, want partial output preserved", res.Stdout)
	}
}

func TestResult_SentinelExitCodes(t *testing.T) {
	tests := []struct {
		status Status
		want   int
	}{
		{StatusSuccess, 0},
		{StatusTimeout, 124},
		{StatusSecurityViolation, 125},
		{StatusLaunchFailure, 126},
		{StatusValidationError, 2},
	}
	for _, tt := range tests {
		r := &Result{Status: tt.status}
		if tt.status == StatusSuccess {
			r.ExitCode = intPtr(0)
		}
		if got := r.SentinelExitCode(); got != tt.want {
			t.Errorf("SentinelExitCode(%s) = %d, want %d", tt.status, got, tt.want)
		}
	}
}
