package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

// syncAll runs one sync round per collection, a failed collection does not
// stop the next one.
func syncAll(ctx context.Context, a *app, collections []string) error {
	var last error
	for _, id := range collections {
		report, err := a.pipeline.SyncCollection(ctx, id)
		if len(report.Results) > 0 {
			printResults(report.Results)
		}
		if err != nil {
			slog.Error("sync failed", "collection", id, "err", err)
			last = err
			continue
		}
		slog.Info("sync done", "collection", id, "new", len(report.Results), "marker", report.Newest)
	}
	return last
}

var syncCmd = &cobra.Command{
	Use:   "sync <collection-id>...",
	Short: "Archives the items added to collections since the last sync.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), 20, 0)
		if err != nil {
			return err
		}
		defer a.Close()
		return syncAll(cmd.Context(), a, args)
	},
}
