package signature

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"zhihu-archive/internal/components/telemetry"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"
)

const testScript = `
var calls = 0;
function get_sign(path, secret) {
	calls++;
	return {"x-zse-93": "101_3_3.0", "x-zse-96": "2.0_" + path.length + "_" + secret};
}
function legacy_sign(path, secret) {
	return "digest:" + path;
}
function explode(path, secret) {
	throw new Error("nope");
}
function spin(path, secret) {
	while (true) {}
}
`

func TestScriptProviderSigns(t *testing.T) {
	provider, err := NewScriptProvider([]byte(testScript), "get_sign", telemetry.NewRecorder())
	require.NoError(t, err)

	headers := provider.Sign("/api/v4/answers/1", "d_c0=abc")
	require.Equal(t, map[string]string{
		"x-zse-93": "101_3_3.0",
		"x-zse-96": "2.0_17_d_c0=abc",
	}, headers)

	// second call is served from the cache
	provider.Sign("/api/v4/answers/1", "d_c0=abc")
	require.Equal(t, int64(1), provider.runtime.Get("calls").ToInteger())

	// callers mutating the result do not poison the cache
	headers["x-zse-96"] = "changed"
	require.Equal(t, "2.0_17_d_c0=abc", provider.Sign("/api/v4/answers/1", "d_c0=abc")["x-zse-96"])
}

func TestScriptProviderLegacyString(t *testing.T) {
	provider, err := NewScriptProvider([]byte(testScript), "legacy_sign", telemetry.NewRecorder())
	require.NoError(t, err)
	require.Equal(t, "digest:/p", provider.Sign("/p", "")["x-zse-96"])
}

func TestScriptProviderThrowing(t *testing.T) {
	rec := telemetry.NewRecorder()
	provider, err := NewScriptProvider([]byte(testScript), "explode", rec)
	require.NoError(t, err)

	require.Empty(t, provider.Sign("/p", "d_c0=x"))
	require.True(t, rec.HasWarning(report_provider_sign))
}

func TestScriptProviderTimeoutDoesNotLeak(t *testing.T) {
	rec := telemetry.NewRecorder()
	provider, err := NewScriptProvider([]byte(testScript), "spin", rec)
	require.NoError(t, err)
	provider.timeout = 20 * time.Millisecond

	require.Empty(t, provider.Sign("/p", "s"))
	require.True(t, rec.HasWarning(report_provider_sign))

	sign, ok := goja.AssertFunction(provider.runtime.Get("get_sign"))
	require.True(t, ok)
	provider.sign = sign

	for i := 0; i < 5; i++ {
		path := "/api/v4/answers/" + string(rune('a'+i))
		require.Equal(t, "2.0_17_s", provider.Sign(path, "s")["x-zse-96"])
	}
}

func TestScriptProviderConcurrent(t *testing.T) {
	provider, err := NewScriptProvider([]byte(testScript), "get_sign", telemetry.NewRecorder())
	require.NoError(t, err)

	results := make([]string, 16)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/api/v4/answers/" + string(rune('a'+i))
			results[i] = provider.Sign(path, "s")["x-zse-96"]
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.Equal(t, "2.0_17_s", r)
	}
}

func TestLoadFallsBackToNoop(t *testing.T) {
	dir := t.TempDir()

	rec := telemetry.NewRecorder()
	_, isNoop := Load(filepath.Join(dir, "missing.js"), "get_sign", rec).(NoopProvider)
	require.True(t, isNoop)
	require.Empty(t, rec.Broken())

	broken := filepath.Join(dir, "broken.js")
	require.NoError(t, os.WriteFile(broken, []byte("function ("), 0644))
	provider := Load(broken, "get_sign", rec)
	require.Empty(t, provider.Sign("/p", "s"))
	require.True(t, rec.HasBroken(report_provider_init))

	good := filepath.Join(dir, "good.js")
	require.NoError(t, os.WriteFile(good, []byte(testScript), 0644))
	require.NotEmpty(t, Load(good, "get_sign", rec).Sign("/p", "s"))
}
