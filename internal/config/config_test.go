package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
api:
  base_url: "http://backend:8000/"
  timeout_seconds: 3
  cache_ttl_seconds: 300
  rate_limit_per_second: 5
  poll_interval_seconds: 15
  timezone: UTC
redis:
  address: "localhost:6379"
telegram:
  bot_token: "${BONTLE_TEST_TOKEN}"
  allowed_chats: [100, 200]
journal:
  path: "/tmp/j.db"
  backup_dir: "/tmp/backups"
  backup_interval_hours: 6
monitoring:
  prometheus_enabled: true
`

func TestParse(t *testing.T) {
	t.Setenv("BONTLE_TEST_TOKEN", "123:abc")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "http://backend:8000", cfg.API.BaseURL)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, []int64{100, 200}, cfg.Telegram.AllowedChats)
	assert.Equal(t, 3*time.Second, cfg.APITimeout())
	assert.Equal(t, 15*time.Second, cfg.PollInterval())
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, "/tmp/backups", cfg.Journal.BackupDir)
	assert.Equal(t, 6*time.Hour, cfg.BackupInterval())

	rps, burst := cfg.RateLimit()
	assert.Equal(t, 5.0, rps)
	assert.Equal(t, 1, burst)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	assert.Equal(t, "data/bontle_journal.db", cfg.Journal.Path)
	assert.Equal(t, "exports", cfg.Console.ExportDir)
	assert.Equal(t, "bontle-staff", cfg.Telemetry.ServiceName)
	assert.Equal(t, 10*time.Second, cfg.PollInterval())
	assert.Equal(t, 10*time.Second, cfg.APITimeout())
	assert.Zero(t, cfg.CacheTTL())
	assert.Equal(t, 8, cfg.PageSize())
	assert.Equal(t, 8080, cfg.HealthCheckPort())
	assert.Equal(t, 9090, cfg.PrometheusPort())
	assert.Equal(t, 24*time.Hour, cfg.BackupInterval())

	rps, _ := cfg.RateLimit()
	assert.Zero(t, rps)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("api: [unclosed"))
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	t.Setenv(EnvPath, "")
	assert.Equal(t, "configs/config.yaml", Path())

	t.Setenv(EnvPath, "/etc/bontle.yaml")
	assert.Equal(t, "/etc/bontle.yaml", Path())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  allowed_chats: [1]\n"), 0o600))

	var mu sync.Mutex
	var seen [][]int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := Watch(ctx, path, 10*time.Millisecond, func(cfg *Config) {
		mu.Lock()
		seen = append(seen, cfg.Telegram.AllowedChats)
		mu.Unlock()
	})
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, seen, 1)
	mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  allowed_chats: [1, 2]\n"), 0o600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2 && len(seen[1]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestWatch_ReloadsWhenOnlySizeChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  page_size: 4\n"), 0o600))
	stamp := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	var mu sync.Mutex
	var sizes []int
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, Watch(ctx, path, 10*time.Millisecond, func(cfg *Config) {
		mu.Lock()
		sizes = append(sizes, cfg.PageSize())
		mu.Unlock()
	}))

	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  page_size: 12\n"), 0o600))
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sizes) == 2 && sizes[1] == 12
	}, time.Second, 10*time.Millisecond)
}

func TestWatch_SkipsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  poll_interval_seconds: 5\n"), 0o600))

	var mu sync.Mutex
	var polls []time.Duration
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, Watch(ctx, path, 10*time.Millisecond, func(cfg *Config) {
		mu.Lock()
		polls = append(polls, cfg.PollInterval())
		mu.Unlock()
	}))

	require.NoError(t, os.WriteFile(path, []byte("api: [unclosed"), 0o600))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Len(t, polls, 1)
	mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte("api:\n  poll_interval_seconds: 20\n"), 0o600))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(polls) == 2 && polls[1] == 20*time.Second
	}, time.Second, 10*time.Millisecond)
}
