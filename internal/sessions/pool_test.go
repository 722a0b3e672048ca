package sessions

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"zhihu-archive/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestParseCredentials(t *testing.T) {
	cases := []struct {
		name     string
		data     string
		expected map[string]string
		err      bool
	}{
		{
			name:     "list of pairs",
			data:     `[{"name": "z_c0", "value": "token"}, {"name": "_xsrf", "value": "x"}]`,
			expected: map[string]string{"z_c0": "token", "_xsrf": "x"},
		},
		{
			name:     "flat map",
			data:     `{"d_c0": "device", "count": 3}`,
			expected: map[string]string{"d_c0": "device"},
		},
		{
			name:     "placeholders dropped",
			data:     `{"z_c0": "YOUR_COOKIE_HERE", "d_c0": ""}`,
			expected: map[string]string{},
		},
		{
			name: "garbage",
			data: `not json`,
			err:  true,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cookies, err := ParseCredentials([]byte(c.data))
			if c.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, c.expected, cookies)
		})
	}
}

func TestLoadFiltersAndDedups(t *testing.T) {
	rec := telemetry.NewRecorder()
	pool := NewPool(seeded(), rec)

	n := pool.Load([]Source{
		{Name: "a.json", Data: []byte(`{"z_c0": "a"}`)},
		{Name: "a-copy.json", Data: []byte(`[{"name": "z_c0", "value": "a"}]`)},
		{Name: "b.json", Data: []byte(`{"d_c0": "b"}`)},
		{Name: "no-identity.json", Data: []byte(`{"_xsrf": "x"}`)},
		{Name: "placeholder.json", Data: []byte(`{"z_c0": "YOUR_COOKIE_HERE", "d_c0": "YOUR_COOKIE_HERE"}`)},
		{Name: "broken.json", Data: []byte(`{`)},
	})

	require.Equal(t, 2, n)
	require.True(t, pool.HasSessions())
	require.True(t, rec.HasWarning(report_pool_load))
	require.Equal(t, int64(2), rec.Count("sessions: "+report_pool_size))
}

func TestEmptyPool(t *testing.T) {
	pool := NewPool(seeded(), telemetry.NewRecorder())
	require.Equal(t, 0, pool.Load(nil))

	_, ok := pool.Current()
	require.False(t, ok)
	for i := 0; i < 3; i++ {
		_, ok = pool.Rotate()
		require.False(t, ok)
	}
	_, cursor := pool.Snapshot()
	require.Equal(t, 0, cursor)
	require.False(t, pool.HasSessions())
}

func TestRotationAdvancesExactly(t *testing.T) {
	for size := 1; size <= 5; size++ {
		var sources []Source
		for i := 0; i < size; i++ {
			sources = append(sources, Source{
				Name: "s",
				Data: []byte(`{"z_c0": "` + string(rune('a'+i)) + `"}`),
			})
		}
		pool := NewPool(seeded(), telemetry.NewRecorder())
		require.Equal(t, size, pool.Load(sources))

		for n := 1; n <= 2*size+1; n++ {
			_, ok := pool.Rotate()
			require.True(t, ok)
			_, cursor := pool.Snapshot()
			require.Equal(t, n%size, cursor)
		}
	}
}

func TestShuffleIsDeterministicForSeed(t *testing.T) {
	sources := []Source{
		{Name: "a", Data: []byte(`{"z_c0": "a"}`)},
		{Name: "b", Data: []byte(`{"z_c0": "b"}`)},
		{Name: "c", Data: []byte(`{"z_c0": "c"}`)},
		{Name: "d", Data: []byte(`{"z_c0": "d"}`)},
	}

	first := NewPool(seeded(), telemetry.NewRecorder())
	first.Load(sources)
	second := NewPool(seeded(), telemetry.NewRecorder())
	second.Load(sources)

	a, _ := first.Snapshot()
	b, _ := second.Snapshot()
	require.Equal(t, a, b)
}

func TestConcurrentRotationNeverLosesAdvance(t *testing.T) {
	pool := NewPool(seeded(), telemetry.NewRecorder())
	pool.Load([]Source{
		{Name: "a", Data: []byte(`{"z_c0": "a"}`)},
		{Name: "b", Data: []byte(`{"z_c0": "b"}`)},
		{Name: "c", Data: []byte(`{"z_c0": "c"}`)},
	})

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Rotate()
			pool.Current()
		}()
	}
	wg.Wait()

	_, cursor := pool.Snapshot()
	require.Equal(t, 30%3, cursor)
}

func TestReadSources(t *testing.T) {
	dir := t.TempDir()
	poolDir := filepath.Join(dir, "cookie_pool")
	require.NoError(t, os.MkdirAll(poolDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(poolDir, "one.json"), []byte(`{"z_c0": "1"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(poolDir, "notes.txt"), []byte(`ignored`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cookies.json"), []byte(`{"z_c0": "2"}`), 0644))

	sources := ReadSources(
		[]string{filepath.Join(dir, "cookies.json"), filepath.Join(dir, "missing.json")},
		[]string{poolDir, filepath.Join(dir, "nope")},
		telemetry.NewRecorder(),
	)
	require.Len(t, sources, 2)
	require.Equal(t, "cookies.json", sources[0].Name)
	require.Equal(t, "one.json", sources[1].Name)
}

func TestSessionSecret(t *testing.T) {
	require.Equal(t, "d_c0=abc", Session{Cookies: map[string]string{"d_c0": "abc"}}.Secret())
	require.Equal(t, "d_c0=SEARCH_ME", Session{Cookies: map[string]string{"z_c0": "x"}}.Secret())
}
