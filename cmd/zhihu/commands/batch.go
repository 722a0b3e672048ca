package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"zhihu-archive/internal/scrapers/zhihu"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(batchCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch <file|->",
	Short: "Archives every zhihu link found in a text file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var text []byte
		var err error
		if args[0] == "-" {
			text, err = io.ReadAll(os.Stdin)
		} else {
			text, err = os.ReadFile(args[0])
		}
		if err != nil {
			return err
		}

		urls := zhihu.ExtractURLs(string(text))
		if len(urls) == 0 {
			return fmt.Errorf("no zhihu links found in %s", args[0])
		}
		slog.Info("found links", "count", len(urls))

		a, err := newApp(cmd.Context(), 20, 0)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.pipeline.Batch(cmd.Context(), urls)
		printResults(results)
		return err
	},
}
