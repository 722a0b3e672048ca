package commands

import (
	"log/slog"
	"sync"
	"time"
	"zhihu-archive/internal/components/chrono"
	"zhihu-archive/internal/components/telemetry"

	"github.com/spf13/cobra"
)

var watchSchedule *string

func init() {
	watchSchedule = watchCmd.Flags().String("schedule", "@every 1h", "Cron expression of the sync rounds.")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <collection-id>...",
	Short: "Syncs collections on a schedule until interrupted.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, 20, 0)
		if err != nil {
			return err
		}
		defer a.Close()

		var running sync.Mutex
		round := func() {
			if ctx.Err() != nil || !running.TryLock() {
				return
			}
			defer running.Unlock()
			syncAll(ctx, a, args)
		}

		cron := chrono.NewStandardCron(a.clock, a.tel)
		err = cron.Cron(*watchSchedule, round)
		if err != nil {
			return err
		}
		defer cron.Stop()

		telemetry.InstrumentProcessStats(ctx, time.Minute, a.tel)

		slog.Info("watching collections", "collections", args, "schedule", *watchSchedule)
		round()
		<-ctx.Done()
		return nil
	},
}
