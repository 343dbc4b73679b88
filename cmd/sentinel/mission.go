package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/sentinel/internal/types"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Create and control missions",
}

var missionCreateCmd = &cobra.Command{
	Use:   "create GOAL",
	Short: "Create a mission from an operator goal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := args[0]
		category, _ := cmd.Flags().GetString("category")
		idempotencyKey, _ := cmd.Flags().GetString("idempotency-key")
		constraintPairs, _ := cmd.Flags().GetStringSlice("constraint")

		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		constraints := make(map[string]string, len(constraintPairs))
		for _, pair := range constraintPairs {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid --constraint %q, expected key=value", pair)
			}
			constraints[key] = value
		}

		mission, err := k.CreateMission(context.Background(), goal, category, constraints, idempotencyKey)
		if err != nil {
			return fmt.Errorf("create mission: %w", err)
		}

		fmt.Printf("Mission created: %s\n", mission.MissionID)
		fmt.Printf("  Goal:  %s\n", mission.Goal)
		fmt.Printf("  State: %s\n", mission.State)
		fmt.Printf("  Tasks: %d\n", len(mission.TaskIDs))
		return nil
	},
}

var missionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List missions",
	RunE: func(cmd *cobra.Command, args []string) error {
		stateFilter, _ := cmd.Flags().GetString("state")

		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		missions := k.ListMissions(types.MissionState(stateFilter))
		if len(missions) == 0 {
			fmt.Println("No missions found")
			return nil
		}

		fmt.Printf("%-38s %-10s %-10s %-8s %s\n", "MISSION ID", "STATE", "RANK", "TASKS", "AGE")
		for _, m := range missions {
			fmt.Printf("%-38s %-10s %-10s %-8d %s\n",
				m.MissionID, m.State, m.Rank, len(m.TaskIDs), humanize.Time(m.CreatedAt))
		}
		return nil
	},
}

var missionInspectCmd = &cobra.Command{
	Use:   "inspect MISSION_ID",
	Short: "Show a mission's current state and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		m, err := k.GetMission(args[0])
		if err != nil {
			return fmt.Errorf("inspect mission: %w", err)
		}

		fmt.Printf("Mission: %s\n", m.MissionID)
		fmt.Printf("  Goal:       %s\n", m.Goal)
		fmt.Printf("  Category:   %s\n", m.Category)
		fmt.Printf("  State:      %s\n", m.State)
		fmt.Printf("  Created:    %s (%s)\n", m.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(m.CreatedAt))
		fmt.Printf("  Task IDs:   %s\n", strings.Join(m.TaskIDs, ", "))
		if len(m.History) > 0 {
			fmt.Println("  History:")
			for _, h := range m.History {
				fmt.Printf("    %s -> %s %s\n", h.Timestamp.Format("15:04:05"), h.State, reasonSuffix(h.Reason))
			}
		}
		return nil
	},
}

var missionPauseCmd = &cobra.Command{
	Use:   "pause MISSION_ID",
	Short: "Pause a mission's orchestration loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		state, err := k.PauseMission(args[0])
		if err != nil {
			return fmt.Errorf("pause mission: %w", err)
		}
		fmt.Printf("Mission %s: %s\n", args[0], state)
		return nil
	},
}

var missionResumeCmd = &cobra.Command{
	Use:   "resume MISSION_ID",
	Short: "Resume a paused mission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		state, err := k.ResumeMission(args[0])
		if err != nil {
			return fmt.Errorf("resume mission: %w", err)
		}
		fmt.Printf("Mission %s: %s\n", args[0], state)
		return nil
	},
}

var missionAbortCmd = &cobra.Command{
	Use:   "abort MISSION_ID",
	Short: "Abort a mission outright",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		state, err := k.AbortMission(args[0])
		if err != nil {
			return fmt.Errorf("abort mission: %w", err)
		}
		fmt.Printf("Mission %s: %s\n", args[0], state)
		return nil
	},
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return fmt.Sprintf("(%s)", reason)
}

func init() {
	missionCmd.AddCommand(missionCreateCmd)
	missionCmd.AddCommand(missionListCmd)
	missionCmd.AddCommand(missionInspectCmd)
	missionCmd.AddCommand(missionPauseCmd)
	missionCmd.AddCommand(missionResumeCmd)
	missionCmd.AddCommand(missionAbortCmd)

	missionCreateCmd.Flags().String("category", "general", "Mission category, used by the planner's keyword heuristics")
	missionCreateCmd.Flags().String("idempotency-key", "", "Repeating a create with the same key returns the existing mission")
	missionCreateCmd.Flags().StringSlice("constraint", nil, "Mission constraint as key=value, repeatable")

	missionListCmd.Flags().String("state", "", "Filter by mission state (CREATED, QUEUED, RUNNING, PAUSED, SUCCESS, FAILURE, ABORTED, REJECTED)")
}
