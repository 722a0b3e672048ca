package commands

import (
	"fmt"
	"zhihu-archive/internal/components/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Lists the sessions of the pool in rotation order.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		pool := loadPool(telemetry.SlogAPI{})
		sessions, cursor := pool.Snapshot()

		t := newTable()
		t.AppendHeader(table.Row{"#", "Source", "Identity", "Cookies"})
		for i, session := range sessions {
			marker := ""
			if i == cursor {
				marker = "*"
			}
			t.AppendRow(table.Row{marker + fmt.Sprint(i+1), session.Source, session.Label(), len(session.Cookies)})
		}
		t.AppendFooter(table.Row{"", "", "total", len(sessions)})
		t.Render()
	},
}
