package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8600, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"."}, cfg.Watch.Paths)
	assert.Equal(t, 100, cfg.Watch.DebounceMs)
	assert.Equal(t, ".lsphost/index.db", cfg.Index.StorePath)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lsphost.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 0.0.0.0
  port: 9000
watch:
  debounce_ms: 250
scheduler:
  concurrency:
    - priority: high
      max_concurrent_tasks: 8
    - priority: low
      max_concurrent_tasks: 2
fallback:
  arguments:
    c: ["-fsyntax-only"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 250, cfg.Watch.DebounceMs)
	require.Len(t, cfg.Scheduler.Concurrency, 2)
	assert.Equal(t, "high", cfg.Scheduler.Concurrency[0].Priority)
	assert.Equal(t, 8, cfg.Scheduler.Concurrency[0].MaxConcurrentTasks)
	assert.Equal(t, []string{"-fsyntax-only"}, cfg.Fallback.Arguments["c"])
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 70000}}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Watch: WatchConfig{DebounceMs: -1}}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Scheduler: SchedulerConfig{Concurrency: []ConcurrencyEntry{{Priority: "low", MaxConcurrentTasks: 0}}}}
	assert.Error(t, cfg.Validate())
}
