package chrono

import (
	"testing"
	"time"
	"zhihu-archive/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func TestStandardCron(t *testing.T) {
	cron := NewStandardCron(NewStandardImpl(), telemetry.NewRecorder())
	defer cron.Stop()

	fired := make(chan struct{}, 1)
	err := cron.Cron("@every 1s", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("cron job never fired")
	}

	require.Error(t, cron.Cron("not a cron spec", func() {}))
}

func TestFixedImpl(t *testing.T) {
	instant := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := FixedImpl{Instant: instant}
	require.Equal(t, instant, clock.Now())
	require.Equal(t, time.UTC, clock.Location())
}
