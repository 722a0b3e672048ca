package telemetry

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
)

var perfMeter = otel.Meter("zhihu-archive/perf")
var cpuGauge, _ = perfMeter.Float64Gauge("cpu_usage")
var memoryGauge, _ = perfMeter.Int64Gauge("allocated_mb")
var goroutineGauge, _ = perfMeter.Int64Gauge("goroutine_count")

// InstrumentProcessStats records cpu, memory and goroutine gauges every
// interval until ctx is done. Long running commands use it to spot leaked
// browsers and goroutines.
func InstrumentProcessStats(ctx context.Context, interval time.Duration, tel API) {
	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)

				usage, err := cpu.PercentWithContext(ctx, 0, false)
				if err == nil && len(usage) > 0 {
					cpuGauge.Record(ctx, usage[0])
				} else if err != nil {
					tel.ReportWarning("perf.cpu", err)
				}

				allocated := int64(memStats.Alloc / 1_000_000)
				goroutines := int64(runtime.NumGoroutine())
				memoryGauge.Record(ctx, allocated)
				goroutineGauge.Record(ctx, goroutines)
				tel.ReportDebug("process stats", "allocated_mb", allocated, "goroutines", goroutines)
			case <-ctx.Done():
				return
			}
		}
	}()
}
