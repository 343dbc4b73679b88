package main

import (
	"fmt"
	"os"

	"github.com/cuemby/sentinel/internal/obslog"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes per the kernel's boot/operation contract: 0 clean, 2
// config error, 3 storage error, 4 doctrine violation at boot.
const (
	exitOK                = 0
	exitConfigError       = 2
	exitStorageError      = 3
	exitDoctrineViolation = 4
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Sentinel - operator-sovereign mission execution runtime",
	Long: `Sentinel decomposes operator goals into gated, worker-executed
tasks, with every fact about what happened recorded in an append-only
ledger. Nothing in the running process is authoritative except that
ledger: capability stage, commit state, and mission state are all
derived by replaying it.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Sentinel version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./sentinel-data", "Ledger and snapshot data directory")
	rootCmd.PersistentFlags().String("doctrine", "./doctrine.json", "Path to doctrine override file")
	rootCmd.PersistentFlags().String("config", "./runtime.json", "Path to runtime configuration file")
	rootCmd.PersistentFlags().String("config-overlay", "", "Optional YAML overlay merged on top of --config")
	rootCmd.PersistentFlags().String("approver-secret", "", "HMAC secret for signing/verifying approver tokens (a built-in development secret is used when empty)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(missionCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(capabilityCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	obslog.Init(obslog.Config{
		Level:      obslog.Level(logLevel),
		JSONOutput: logJSON,
	})
}
