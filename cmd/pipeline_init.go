package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/credits"
	"github.com/sells-group/intel-cli/internal/pipeline"
	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/internal/store"
)

// appEnv holds the store, settings cache and pipeline needed by the run,
// report and serve commands.
type appEnv struct {
	Store    store.Store
	Settings *config.SettingsCache
	Pipeline *pipeline.Pipeline
	Credits  *credits.Ledger
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates config for mode, opens and migrates the store and builds
// the pipeline. Callers should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return newAppEnv(st), nil
}

// newAppEnv wires the pipeline over an open store.
func newAppEnv(st store.Store) *appEnv {
	settings := config.NewSettingsCache(st, time.Duration(cfg.Settings.CacheTTLSecs)*time.Second)
	fetcher := pipeline.NewFetcher(cfg)
	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	zap.L().Debug("pipeline initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("fetcher", fetcher.Name()),
	)

	return &appEnv{
		Store:    st,
		Settings: settings,
		Pipeline: pipeline.New(cfg, st, settings, fetcher, pipeline.WithBreakers(breakers)),
		Credits:  credits.NewLedger(st, cfg.Credits.MonthlyLimit),
	}
}
