package config

import (
	"os"
	"path/filepath"
	"testing"
	"zhihu-archive/internal/errs"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func TestLoadFileMergesLocalOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "zhihu.json5"), `{
		// comments are allowed
		http: { transport: "cloudflare", timeout_seconds: 20 },
		crawler: { concurrency: 2 },
		pacing: { disabled: true },
	}`)
	writeFile(t, filepath.Join(dir, "zhihu.local.json5"), `{
		http: { proxy: "http://127.0.0.1:8080" },
		crawler: { concurrency: 6 },
	}`)

	cfg, err := LoadFile(filepath.Join(dir, "zhihu.json5"))
	require.NoError(t, err)

	require.Equal(t, "cloudflare", cfg.HTTP.Transport)
	require.Equal(t, 20, cfg.HTTP.TimeoutSeconds)
	require.Equal(t, "http://127.0.0.1:8080", cfg.HTTP.Proxy)
	require.Equal(t, 6, cfg.Crawler.Concurrency)
	require.True(t, cfg.Pacing.Disabled)
	// untouched sections keep their defaults
	require.Equal(t, DefaultUserAgent, cfg.HTTP.UserAgent)
	require.Equal(t, 10, cfg.Browser.ContentTimeoutSeconds)
	require.Equal(t, []string{"cookies.json"}, cfg.Sessions.Files)
}

func TestReadRecursivelyWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	writeFile(t, filepath.Join(root, FileName), `{ output: { directory: "archive" } }`)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, dir, err := ReadRecursively[Config](FileName)
	require.NoError(t, err)
	require.Equal(t, "archive", cfg.Output.Directory)

	resolvedRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	resolvedDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	require.Equal(t, resolvedRoot, resolvedDir)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"transport", func(c *Config) { c.HTTP.Transport = "carrier-pigeon" }},
		{"delay range", func(c *Config) { c.Pacing.MinDelayMs = 3000 }},
		{"concurrency", func(c *Config) { c.Crawler.Concurrency = 100 }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Defaults()
			c.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			category, severity := errs.Classify(err)
			require.Equal(t, errs.CategoryConfig, category)
			require.Equal(t, errs.SeverityFatal, severity)
		})
	}

	require.NoError(t, Defaults().Validate())
}
