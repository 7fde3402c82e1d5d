package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ngao",
	Short: "Ngao — sandboxed script execution service",
	Long: `Ngao executes untrusted script text in isolated, time-bounded subprocesses.
It screens scripts against a security policy before launch, stages each run in
a throwaway workspace, and classifies every outcome into a terminal status.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, scanCmd, versionCmd)

	// Load .env early so env overrides apply to every subcommand.
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
