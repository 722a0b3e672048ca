package commands

import (
	"os"
	"path/filepath"
	"zhihu-archive/internal/archive"
	"zhihu-archive/internal/components/chrono"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var searchLimit *int

func init() {
	searchLimit = searchCmd.Flags().IntP("limit", "n", 20, "Maximum amount of results.")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Searches titles, authors and bodies of the archive.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfg.Storage.Archive); err != nil {
			return err
		}
		store, err := archive.Open(cfg.Storage.Archive, chrono.NewStandardImpl())
		if err != nil {
			return err
		}
		defer store.Close()

		hits, err := store.Search(cmd.Context(), args[0], *searchLimit)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Date", "Title", "Author", "Upvotes", "Path"})
		for _, hit := range hits {
			date := ""
			if !hit.PublishedDate.IsZero() {
				date = hit.PublishedDate.Format("2006-01-02")
			}
			t.AppendRow(table.Row{
				date,
				hit.Title,
				hit.Author,
				hit.UpvoteCount,
				filepath.Join(cfg.Output.Directory, hit.Path),
			})
		}
		t.Render()
		return nil
	},
}
