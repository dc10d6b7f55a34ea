package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// No config.yaml in the temp dir.
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "intel.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "https://api.tavily.com", cfg.Search.TavilyBaseURL)
	assert.Equal(t, "https://r.jina.ai", cfg.Search.JinaReadBaseURL)
	assert.InDelta(t, 2.0, cfg.Search.RatePerSec, 0.001)
	assert.Equal(t, 20, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 300000, cfg.Fetch.MaxChars)
	assert.Equal(t, int64(5<<20), cfg.Fetch.MaxBodyBytes)
	assert.Equal(t, 4, cfg.Pipeline.SearchConcurrency)
	assert.Equal(t, 5, cfg.Pipeline.FetchConcurrency)
	assert.Equal(t, 180, cfg.Pipeline.StaleDays)
	assert.Equal(t, 3, cfg.Scheduler.Concurrency)
	assert.Equal(t, 7, cfg.Scheduler.RerunMinAgeDays)
	assert.Equal(t, 1000, cfg.Credits.MonthlyLimit)
	assert.InDelta(t, 0.3, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 60, cfg.Settings.CacheTTLSecs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/intel
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  fetch_concurrency: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/intel", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Pipeline.FetchConcurrency)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Pipeline.SearchConcurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9090\n"), 0o644))
	t.Setenv("INTEL_SERVER_PORT", "7070")
	t.Setenv("INTEL_SEARCH_TAVILY_KEY", "tvly-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "tvly-test", cfg.Search.TavilyKey)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [\n"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "run defaults", mode: "run"},
		{name: "serve defaults", mode: "serve"},
		{name: "store defaults", mode: "store"},
		{name: "unknown mode", mode: "bogus", wantErr: "unknown mode"},
		{
			name:    "bad driver",
			mode:    "store",
			mutate:  func(c *Config) { c.Store.Driver = "mysql" },
			wantErr: `store.driver "mysql"`,
		},
		{
			name:    "missing database url",
			mode:    "store",
			mutate:  func(c *Config) { c.Store.DatabaseURL = "" },
			wantErr: "store.database_url is required",
		},
		{
			name:    "fetch concurrency too high",
			mode:    "run",
			mutate:  func(c *Config) { c.Pipeline.FetchConcurrency = 64 },
			wantErr: "pipeline.fetch_concurrency",
		},
		{
			name:    "threshold out of range",
			mode:    "run",
			mutate:  func(c *Config) { c.Monitoring.FailureRateThreshold = 1.5 },
			wantErr: "failure_rate_threshold",
		},
		{
			name:    "serve needs port",
			mode:    "serve",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "run ignores port",
			mode:    "run",
			mutate:  func(c *Config) { c.Server.Port = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type fakeSettingsStore struct {
	settings model.Settings
	gets     int
	err      error
}

func (f *fakeSettingsStore) GetSettings(_ context.Context) (*model.Settings, error) {
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	s := f.settings
	return &s, nil
}

func (f *fakeSettingsStore) SaveSettings(_ context.Context, s model.Settings) error {
	if f.err != nil {
		return f.err
	}
	f.settings = s
	return nil
}

func TestSettingsCache_TTL(t *testing.T) {
	store := &fakeSettingsStore{settings: model.Settings{SearchProvider: "tavily"}}
	cache := NewSettingsCache(store, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	s, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tavily", s.SearchProvider)
	assert.Equal(t, model.DefaultStalenessDays, s.StalenessDays)

	store.settings.SearchProvider = "serpapi"
	s, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tavily", s.SearchProvider)
	assert.Equal(t, 1, store.gets)

	now = now.Add(2 * time.Minute)
	s, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "serpapi", s.SearchProvider)
	assert.Equal(t, 2, store.gets)
}

func TestSettingsCache_SetAndInvalidate(t *testing.T) {
	store := &fakeSettingsStore{}
	cache := NewSettingsCache(store, time.Hour)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, model.Settings{SearchProvider: "jina", StalenessDays: 30}))
	s, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jina", s.SearchProvider)
	assert.Equal(t, 0, store.gets)

	cache.Invalidate()
	_, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets)
}

func TestSettingsCache_StoreError(t *testing.T) {
	store := &fakeSettingsStore{err: errors.New("db down")}
	cache := NewSettingsCache(store, time.Hour)

	_, err := cache.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load settings")
	assert.Error(t, cache.Set(context.Background(), model.Settings{}))
}
