package cmd

import (
	"fmt"

	"github.com/taverntapes/taverntapes/internal/store"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start [session-name]",
	Short: "Begin a new recording",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		var meta store.SessionMetadata
		if err := newAPIClient().post("/api/start", map[string]string{"name": name}, &meta); err != nil {
			return err
		}
		fmt.Printf("recording started: %s\n", meta.SessionName)
		return nil
	},
}
