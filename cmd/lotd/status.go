package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show slots, gates, display and task liveness",
	GroupID: "views",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := statusClient.Status(context.Background())
		if err != nil {
			return fmt.Errorf("fetching status: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), st)
		}
		printStatus(cmd.OutOrStdout(), st)
		return nil
	},
}
