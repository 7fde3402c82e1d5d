package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ngao-sh/ngao/internal/config"
	"github.com/ngao-sh/ngao/internal/engine"
	"github.com/ngao-sh/ngao/internal/policy"
)

var scanConfigPath string

var scanCmd = &cobra.Command{
	Use:   "scan <script-file>",
	Short: "Screen a script against the security policy without executing it",
	Long: `Scan evaluates the script against the screening rule catalog and prints
every finding. Exits 0 when the script would be allowed to run, 125 when a
blocking finding would reject it.

Use "-" to read the script from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(scanConfigPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}

	script, err := readScript(args[0])
	if err != nil {
		return err
	}

	pol, err := buildPolicy(cfg.Policy)
	if err != nil {
		return err
	}

	findings := pol.Evaluate(script)
	for _, f := range findings {
		fmt.Printf("line %d: %s %s (%s)\n", f.Line, f.PatternID, f.Description, f.Severity)
	}

	if policy.HasBlocking(findings) {
		fmt.Fprintln(os.Stderr, "ngao: script blocked by security policy")
		os.Exit(engine.ExitSecurityViolation)
	}
	return nil
}
