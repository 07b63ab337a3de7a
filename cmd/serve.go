package cmd

import (
	"fmt"
	"log/slog"

	"github.com/taverntapes/taverntapes/internal/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recording-engine control server",
	Long: `Start the taverntapes server: it owns the Recording Engine,
the Blob/Session/Recovery stores, and the Catalog, and exposes them
over HTTP for the start/pause/resume/stop/status/recover/catalog
commands to drive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := server.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		defer srv.Close()

		slog.Info("taverntapes server starting", "addr", cfg.Server.Addr, "store", cfg.Store.Path)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}
