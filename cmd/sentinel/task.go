package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Approve or reject tasks awaiting confirmation",
}

var taskApproveCmd = &cobra.Command{
	Use:   "approve TASK_ID",
	Short: "Approve a task currently in NEEDS_CONFIRM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approverToken, _ := cmd.Flags().GetString("token")
		if approverToken == "" {
			return fmt.Errorf("--token is required (mint one with 'sentinel task issue-token')")
		}

		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		state, err := k.ApproveTask(args[0], approverToken)
		if err != nil {
			return fmt.Errorf("approve task: %w", err)
		}
		fmt.Printf("Task %s: %s\n", args[0], state)
		return nil
	},
}

var taskRejectCmd = &cobra.Command{
	Use:   "reject TASK_ID",
	Short: "Reject a task currently in NEEDS_CONFIRM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approverToken, _ := cmd.Flags().GetString("token")
		reason, _ := cmd.Flags().GetString("reason")
		if approverToken == "" {
			return fmt.Errorf("--token is required (mint one with 'sentinel task issue-token')")
		}

		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		state, err := k.RejectTask(args[0], approverToken, reason)
		if err != nil {
			return fmt.Errorf("reject task: %w", err)
		}
		fmt.Printf("Task %s: %s\n", args[0], state)
		return nil
	},
}

var taskIssueTokenCmd = &cobra.Command{
	Use:   "issue-token APPROVER_ID",
	Short: "Mint a short-lived bearer token identifying an approver",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		token, err := k.IssueApproverToken(args[0])
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskApproveCmd)
	taskCmd.AddCommand(taskRejectCmd)
	taskCmd.AddCommand(taskIssueTokenCmd)

	taskApproveCmd.Flags().String("token", "", "Approver bearer token")
	taskRejectCmd.Flags().String("token", "", "Approver bearer token")
	taskRejectCmd.Flags().String("reason", "", "Reason recorded alongside the rejection")
}
