package engine

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/ngao-sh/ngao/internal/params"
	"github.com/ngao-sh/ngao/internal/workspace"
)

// Supported interpreter profiles.
const (
	InterpreterPwsh = "pwsh" // PowerShell in ConstrainedLanguage mode (primary).
	InterpreterSh   = "sh"   // POSIX shell, parameters bound as environment variables.
)

const (
	defaultCPUSeconds = 60
	defaultMemoryMB   = 512
)

// pwshHarness is the fixed, trusted bootstrap staged next to every PowerShell
// script. It reads the JSON parameter payload from stdin and splat-binds it
// to the script's param block — the untrusted script and its parameters never
// pass through string-built command construction.
//
// The harness runs under __PSLockdownPolicy=4 like the script itself; it only
// uses constructs ConstrainedLanguage mode permits.
const pwshHarness = `param([string]$ScriptPath)
$ErrorActionPreference = 'Stop'
$raw = @($input) -join "` + "`n" + `"
$bound = @{}
if ($raw.Trim().Length -gt 0) {
    $bound = ConvertFrom-Json -InputObject $raw -AsHashtable
}
& $ScriptPath @bound
exit $LASTEXITCODE
`

// ResourceLimits constrains the launched interpreter via ulimit.
// The CPU limit doubles as the inner, advisory timeout layer; the
// supervisor's wall-clock deadline is authoritative and owns the
// reported elapsed time.
type ResourceLimits struct {
	MaxCPUSeconds int // CPU time limit (ulimit -t).
	MaxMemoryMB   int // Virtual memory limit in MB (ulimit -v).
}

// LauncherConfig configures the sandbox launcher.
type LauncherConfig struct {
	Interpreter string // InterpreterPwsh (default) or InterpreterSh.
	Binary      string // Interpreter executable. Default: the profile name.
	Limits      ResourceLimits
}

// LaunchSpec is a fully resolved subprocess invocation: a discrete argument
// vector, a sanitized environment, and a stdin payload. Nothing in it has
// passed through shell string interpolation — the only shell involved is the
// fixed ulimit shim, which receives the interpreter argv as positional
// parameters.
type LaunchSpec struct {
	Argv  []string
	Env   []string
	Stdin []byte
	Dir   string
}

// Launcher builds launch specifications for one interpreter profile.
type Launcher struct {
	interpreter string
	binary      string
	limits      ResourceLimits
}

// NewLauncher creates a launcher for the configured interpreter profile.
func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	interp := cfg.Interpreter
	if interp == "" {
		interp = InterpreterPwsh
	}
	switch interp {
	case InterpreterPwsh, InterpreterSh:
	default:
		return nil, fmt.Errorf("unsupported interpreter %q", interp)
	}

	binary := cfg.Binary
	if binary == "" {
		binary = interp
	}

	limits := cfg.Limits
	if limits.MaxCPUSeconds == 0 {
		limits.MaxCPUSeconds = defaultCPUSeconds
	}
	if limits.MaxMemoryMB == 0 {
		limits.MaxMemoryMB = defaultMemoryMB
	}

	return &Launcher{interpreter: interp, binary: binary, limits: limits}, nil
}

// ScriptExt returns the staged script's file extension for this profile.
func (l *Launcher) ScriptExt() string {
	if l.interpreter == InterpreterPwsh {
		return "ps1"
	}
	return "sh"
}

// CheckBinary verifies the interpreter executable is resolvable.
// Used by the readiness probe.
func (l *Launcher) CheckBinary(_ context.Context) error {
	if _, err := exec.LookPath(l.binary); err != nil {
		return fmt.Errorf("interpreter %q not found: %w", l.binary, err)
	}
	return nil
}

// Prepare stages any harness files into the workspace and returns the launch
// specification for the staged script with the given parameter payload.
func (l *Launcher) Prepare(ws *workspace.Workspace, payload []byte, prms params.Params) (*LaunchSpec, error) {
	switch l.interpreter {
	case InterpreterPwsh:
		return l.preparePwsh(ws, payload)
	case InterpreterSh:
		return l.prepareSh(ws, prms)
	default:
		return nil, fmt.Errorf("unsupported interpreter %q", l.interpreter)
	}
}

// preparePwsh launches PowerShell with a constrained runtime:
//   - __PSLockdownPolicy=4 forces ConstrainedLanguage mode, which disables
//     reflection, Add-Type compilation, and dynamic assembly/native loading.
//   - PSModulePath is emptied so only built-in modules resolve.
//   - -NoProfile/-NonInteractive prevent profile code and prompts.
//
// Parameters arrive over stdin as a JSON object; the trusted harness binds
// them by splatting.
func (l *Launcher) preparePwsh(ws *workspace.Workspace, payload []byte) (*LaunchSpec, error) {
	harnessPath, err := ws.StageFile("harness.ps1", []byte(pwshHarness))
	if err != nil {
		return nil, fmt.Errorf("staging pwsh harness: %w", err)
	}

	argv := []string{
		l.binary,
		"-NoProfile", "-NonInteractive", "-NoLogo",
		"-File", harnessPath, ws.ScriptPath,
	}

	env := append(baseEnv(ws.Dir),
		"__PSLockdownPolicy=4",
		"PSModulePath=",
		"POWERSHELL_TELEMETRY_OPTOUT=1",
		"DOTNET_CLI_TELEMETRY_OPTOUT=1",
	)

	return &LaunchSpec{
		Argv:  l.wrapLimits(argv),
		Env:   env,
		Stdin: payload,
		Dir:   ws.Dir,
	}, nil
}

// prepareSh launches a POSIX shell on the staged script. Parameters are
// bound as environment variables — names are identifier-validated upstream
// and values are never parsed by the shell, so there is no injection path.
func (l *Launcher) prepareSh(ws *workspace.Workspace, prms params.Params) (*LaunchSpec, error) {
	argv := []string{l.binary, ws.ScriptPath}

	env := baseEnv(ws.Dir)
	for _, prm := range prms {
		env = append(env, prm.Name+"="+prm.StringValue())
	}

	return &LaunchSpec{
		Argv: l.wrapLimits(argv),
		Env:  env,
		Dir:  ws.Dir,
	}, nil
}

// wrapLimits wraps the interpreter argv in a fixed shell shim that applies
// ulimit resource enforcement, then execs the argv received as positional
// parameters. Using exec "$@" prevents shell interpolation of anything
// caller-controlled.
func (l *Launcher) wrapLimits(argv []string) []string {
	memKB := l.limits.MaxMemoryMB * 1024
	shim := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		memKB, l.limits.MaxCPUSeconds,
	)
	out := make([]string, 0, 4+len(argv))
	out = append(out, "/bin/sh", "-c", shim, "_") // "_" is the $0 placeholder
	return append(out, argv...)
}

// baseEnv constructs the minimal, safe environment for a sandboxed process.
// The parent process's environment is NEVER inherited — API keys and other
// host secrets must not leak into untrusted scripts.
func baseEnv(dir string) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
}
