package cmd

import (
	"fmt"

	"github.com/taverntapes/taverntapes/internal/engine"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engine's current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status engine.Status
		if err := newAPIClient().get("/api/status", &status); err != nil {
			return err
		}
		fmt.Printf("state: %s\n", status.State)
		if status.SessionName != "" {
			fmt.Printf("session: %s (%.1fs, %d bytes)\n", status.SessionName, status.DurationSeconds, status.FileSizeBytes)
		}
		return nil
	},
}
