package cmd

import (
	"fmt"
	"net/url"
	"os"

	"github.com/taverntapes/taverntapes/internal/store"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Browse and annotate recorded sessions",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every recorded session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCatalogSearch("")
	},
}

var catalogSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search sessions by name, note, or tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCatalogSearch(args[0])
	},
}

func runCatalogSearch(query string) error {
	var resp struct {
		Sessions []store.Session `json:"sessions"`
	}
	path := "/api/catalog/sessions"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	if err := newAPIClient().get(path, &resp); err != nil {
		return err
	}
	for _, sess := range resp.Sessions {
		fmt.Printf("%s  %s  %.1fs  %d segment(s)\n", sess.ID, sess.Metadata.SessionName, sess.Metadata.DurationSeconds, len(sess.Segments))
	}
	return nil
}

var catalogNoteCmd = &cobra.Command{
	Use:   "note [session-id] [note]",
	Short: "Attach a note to a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]interface{}
		return newAPIClient().post("/api/catalog/sessions/"+args[0]+"/notes", map[string]string{"note": args[1]}, &resp)
	},
}

var catalogTagCmd = &cobra.Command{
	Use:   "tag [session-id] [tag...]",
	Short: "Add one or more tags to a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]interface{}
		return newAPIClient().post("/api/catalog/sessions/"+args[0]+"/tags", map[string][]string{"tags": args[1:]}, &resp)
	},
}

var catalogUntagCmd = &cobra.Command{
	Use:   "untag [session-id] [tag]",
	Short: "Remove a tag from a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]interface{}
		return newAPIClient().delete("/api/catalog/sessions/"+args[0]+"/tags/"+args[1], &resp)
	},
}

var catalogExportCmd = &cobra.Command{
	Use:   "export [session-id] [output-path]",
	Short: "Write a session's concatenated segments to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()
		resp, err := client.http.Get(client.baseURL + "/api/catalog/sessions/" + args[0] + "/export")
		if err != nil {
			return fmt.Errorf("calling taverntapes server: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		f, err := os.Create(args[1])
		if err != nil {
			return fmt.Errorf("creating %s: %w", args[1], err)
		}
		defer f.Close()
		if _, err := f.ReadFrom(resp.Body); err != nil {
			return fmt.Errorf("writing %s: %w", args[1], err)
		}
		fmt.Printf("exported to %s\n", args[1])
		return nil
	},
}

var catalogDeleteCmd = &cobra.Command{
	Use:   "delete [session-id]",
	Short: "Delete a session and its segment blobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]interface{}
		return newAPIClient().delete("/api/catalog/sessions/"+args[0], &resp)
	},
}

func init() {
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogSearchCmd)
	catalogCmd.AddCommand(catalogNoteCmd)
	catalogCmd.AddCommand(catalogTagCmd)
	catalogCmd.AddCommand(catalogUntagCmd)
	catalogCmd.AddCommand(catalogExportCmd)
	catalogCmd.AddCommand(catalogDeleteCmd)
}
