package cmd

import (
	"fmt"

	"github.com/taverntapes/taverntapes/internal/store"

	"github.com/spf13/cobra"
)

var discardRecovery bool

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Resume or discard a pending crash-recovery checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()

		if discardRecovery {
			var resp map[string]interface{}
			if err := client.post("/api/recovery/discard", nil, &resp); err != nil {
				return err
			}
			fmt.Println("recovery checkpoint discarded")
			return nil
		}

		var pending struct {
			Pending    bool                     `json:"pending"`
			Checkpoint store.RecoveryCheckpoint `json:"checkpoint"`
		}
		if err := client.get("/api/recovery", &pending); err != nil {
			return err
		}
		if !pending.Pending {
			fmt.Println("no pending recovery checkpoint")
			return nil
		}

		var meta store.SessionMetadata
		if err := client.post("/api/recovery/resume", nil, &meta); err != nil {
			return err
		}
		fmt.Printf("recovered session: %s (resumed at %.1fs)\n", meta.SessionName, meta.DurationSeconds)
		return nil
	},
}

func init() {
	recoverCmd.Flags().BoolVar(&discardRecovery, "discard", false, "discard the pending checkpoint instead of resuming it")
}
