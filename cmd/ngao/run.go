package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngao-sh/ngao/internal/config"
	"github.com/ngao-sh/ngao/internal/engine"
	"github.com/ngao-sh/ngao/internal/params"
)

var (
	runConfigPath     string
	runParamsJSON     string
	runTimeoutSeconds int
	runJSONOutput     bool
)

var runCmd = &cobra.Command{
	Use:   "run <script-file>",
	Short: "Execute a script locally, without the HTTP server",
	Long: `Run executes one script through the full pipeline — policy screening,
workspace isolation, resource limits, timeout supervision — and exits with the
script's own exit code. When no process ran, a reserved sentinel stands in:
2 validation, 124 timeout, 125 security violation, 126 launch failure.

Use "-" to read the script from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	runCmd.Flags().StringVar(&runParamsJSON, "params", "", `parameters as a JSON object, e.g. '{"host":"web01","count":3}'`)
	runCmd.Flags().IntVar(&runTimeoutSeconds, "timeout", 0, "execution timeout in seconds (0 = server default)")
	runCmd.Flags().BoolVar(&runJSONOutput, "json", false, "print the full result as JSON instead of raw streams")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newLogger(slog.LevelWarn)

	cfg, err := loadConfig(runConfigPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}

	script, err := readScript(args[0])
	if err != nil {
		return err
	}

	var prms params.Params
	if runParamsJSON != "" {
		if err := json.Unmarshal([]byte(runParamsJSON), &prms); err != nil {
			return fmt.Errorf("parsing --params: %w", err)
		}
	}

	eng, _, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := eng.Execute(ctx, engine.Request{
		Script:     script,
		Parameters: prms,
		Timeout:    time.Duration(runTimeoutSeconds) * time.Second,
	})

	if runJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Fprint(os.Stdout, res.Stdout)
		fmt.Fprint(os.Stderr, res.Stderr)
		if res.Status != engine.StatusSuccess && res.Status != engine.StatusScriptError {
			fmt.Fprintf(os.Stderr, "ngao: %s", res.Status)
			if res.Error != "" {
				fmt.Fprintf(os.Stderr, ": %s", res.Error)
			}
			fmt.Fprintln(os.Stderr)
			for _, f := range res.Findings {
				fmt.Fprintf(os.Stderr, "ngao: line %d: %s %s (%s)\n", f.Line, f.PatternID, f.Description, f.Severity)
			}
		}
	}

	os.Exit(res.SentinelExitCode())
	return nil
}
