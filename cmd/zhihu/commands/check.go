package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"zhihu-archive/internal/archive"
	"zhihu-archive/internal/components/chrono"
	"zhihu-archive/internal/components/telemetry"
	"zhihu-archive/internal/incremental"
	"zhihu-archive/internal/signature"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runChecks() []checkResult {
	tel := telemetry.NewRecorder()
	var results []checkResult

	pool := loadPool(tel)
	sessions, _ := pool.Snapshot()
	results = append(results, checkResult{
		name:   "sessions",
		ok:     len(sessions) > 0,
		detail: fmt.Sprintf("%d valid, guest mode when 0", len(sessions)),
	})

	provider := signature.Load(cfg.Signature.Script, cfg.Signature.Function, tel)
	_, unsigned := provider.(signature.NoopProvider)
	detail := "script loaded"
	if unsigned {
		detail = "requests are unsigned"
	}
	results = append(results, checkResult{name: "signature", ok: !unsigned, detail: detail})

	switch {
	case cfg.Browser.Disabled:
		results = append(results, checkResult{name: "browser", ok: true, detail: "disabled"})
	case cfg.Browser.Bin != "":
		_, err := os.Stat(cfg.Browser.Bin)
		results = append(results, checkResult{name: "browser", ok: err == nil, detail: cfg.Browser.Bin})
	default:
		bin, found := launcher.LookPath()
		if !found {
			bin = "not found, it will be downloaded on first use"
		}
		results = append(results, checkResult{name: "browser", ok: found, detail: bin})
	}

	err := os.MkdirAll(cfg.Output.Directory, 0755)
	if err == nil {
		probe := filepath.Join(cfg.Output.Directory, ".write-check")
		err = os.WriteFile(probe, nil, 0644)
		os.Remove(probe)
	}
	results = append(results, checkResult{name: "output", ok: err == nil, detail: errDetail(cfg.Output.Directory, err)})

	err = os.MkdirAll(filepath.Dir(cfg.Storage.Archive), 0755)
	if err == nil {
		var store archive.Store
		store, err = archive.Open(cfg.Storage.Archive, chrono.NewStandardImpl())
		if err == nil {
			store.Close()
		}
	}
	results = append(results, checkResult{name: "archive", ok: err == nil, detail: errDetail(cfg.Storage.Archive, err)})

	state, err := incremental.OpenBadger(cfg.Storage.State)
	if err == nil {
		state.Close()
	}
	results = append(results, checkResult{name: "sync state", ok: err == nil, detail: errDetail(cfg.Storage.State, err)})

	return results
}

func errDetail(path string, err error) string {
	if err != nil {
		return err.Error()
	}
	return path
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Checks sessions, signing, the browser and storage.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := runChecks()

		t := newTable()
		t.AppendHeader(table.Row{"Check", "Status", "Detail"})
		failed := 0
		for _, result := range results {
			status := "ok"
			if !result.ok {
				status = "warn"
				failed++
			}
			t.AppendRow(table.Row{result.name, status, result.detail})
		}
		t.Render()

		if failed > 0 {
			return fmt.Errorf("%d checks need attention", failed)
		}
		return nil
	},
}
