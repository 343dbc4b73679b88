package main

import (
	"time"

	"github.com/cuemby/sentinel/internal/kernel"
	"github.com/spf13/cobra"
)

// openKernel boots a Kernel from the root command's persistent flags.
// Every subcommand that touches live state calls this first.
func openKernel(cmd *cobra.Command) (*kernel.Kernel, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	doctrinePath, _ := cmd.Flags().GetString("doctrine")
	configPath, _ := cmd.Flags().GetString("config")
	configOverlay, _ := cmd.Flags().GetString("config-overlay")
	secret, _ := cmd.Flags().GetString("approver-secret")

	if secret == "" {
		secret = "sentinel-dev-secret-change-me"
	}

	k, err := kernel.Boot(kernel.Options{
		DataDir:        dataDir,
		DoctrinePath:   doctrinePath,
		ConfigPath:     configPath,
		ConfigOverlay:  configOverlay,
		ApproverSecret: []byte(secret),
		ApproverTTL:    15 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	return k, nil
}
