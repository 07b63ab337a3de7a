package cmd

import (
	"fmt"

	"github.com/taverntapes/taverntapes/internal/engine"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the active recording",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status engine.Status
		if err := newAPIClient().post("/api/pause", nil, &status); err != nil {
			return err
		}
		fmt.Printf("paused: %s\n", status.SessionName)
		return nil
	},
}
