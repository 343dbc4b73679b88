package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var capabilityCmd = &cobra.Command{
	Use:   "capability",
	Short: "Show the current capability stage",
}

var capabilityStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current capability stage and permitted set",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := openKernel(cmd)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		stage, permitted := k.GetCapability()
		fmt.Printf("Stage: %s\n", stage)
		fmt.Printf("Permitted: %s\n", strings.Join(permitted, ", "))
		return nil
	},
}

func init() {
	capabilityCmd.AddCommand(capabilityStatusCmd)
}
