package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the append-only ledger",
}

var ledgerTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream ledger entries from a sequence number onward",
	RunE: func(cmd *cobra.Command, args []string) error {
		fromSeq, _ := cmd.Flags().GetUint64("from-seq")

		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		stream, err := k.TailLedger(ctx, fromSeq)
		if err != nil {
			return fmt.Errorf("tail ledger: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		for entry := range stream {
			_ = enc.Encode(entry)
		}
		return nil
	},
}

var ledgerCommitQueueCmd = &cobra.Command{
	Use:   "commit-queue",
	Short: "List tasks currently awaiting confirmation",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		queue := k.CommitQueue()
		if len(queue) == 0 {
			fmt.Println("Commit queue is empty")
			return nil
		}

		fmt.Printf("%-38s %-16s %-6s %s\n", "TASK ID", "STATE", "RISK", "COUNTDOWN")
		for _, entry := range queue {
			fmt.Printf("%-38s %-16s %-6s %ds\n", entry.TaskID, entry.State, entry.Risk, entry.CountdownSeconds)
		}
		return nil
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerTailCmd)
	ledgerCmd.AddCommand(ledgerCommitQueueCmd)

	ledgerTailCmd.Flags().Uint64("from-seq", 0, "Starting sequence number (0 replays the full backlog)")
}
