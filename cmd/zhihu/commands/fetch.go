package commands

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var fetchLimit *int
var fetchOffset *int

func init() {
	fetchLimit = fetchCmd.Flags().Int("limit", 20, "How many answers to archive for a question link.")
	fetchOffset = fetchCmd.Flags().Int("offset", 0, "How many answers of a question to skip.")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>...",
	Short: "Archives articles, answers or the answers of a question.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), *fetchLimit, *fetchOffset)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.pipeline.Batch(cmd.Context(), args)
		failed := printResults(results)
		if err != nil {
			return err
		}
		if failed > 0 {
			slog.Warn("some links failed", "failed", failed, "total", len(args))
		}
		return nil
	},
}
