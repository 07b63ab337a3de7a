package cmd

import (
	"fmt"

	"github.com/taverntapes/taverntapes/internal/engine"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused recording",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status engine.Status
		if err := newAPIClient().post("/api/resume", nil, &status); err != nil {
			return err
		}
		fmt.Printf("resumed: %s\n", status.SessionName)
		return nil
	},
}
