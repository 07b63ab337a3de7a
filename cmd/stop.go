package cmd

import (
	"fmt"

	"github.com/taverntapes/taverntapes/internal/store"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Finalize the active recording",
	RunE: func(cmd *cobra.Command, args []string) error {
		var meta store.SessionMetadata
		if err := newAPIClient().post("/api/stop", nil, &meta); err != nil {
			return err
		}
		fmt.Printf("recording stopped: %s (%.1fs, %d bytes)\n", meta.SessionName, meta.DurationSeconds, meta.FileSizeBytes)
		return nil
	},
}
