// Package pipeline orchestrates a competitive-intelligence run through
// discovery, extraction, synthesis and QA.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/extract"
	"github.com/sells-group/intel-cli/internal/fetch"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/internal/search"
	"github.com/sells-group/intel-cli/internal/store"
	"github.com/sells-group/intel-cli/internal/vertical"
	"github.com/sells-group/intel-cli/pkg/jina"
)

// Defaults applied when the pipeline config leaves a field unset.
const (
	defaultSearchConcurrency = 4
	defaultFetchConcurrency  = 5
	defaultResultsPerQuery   = 10
)

// SettingsSource supplies runtime settings, typically a config.SettingsCache.
type SettingsSource interface {
	Get(ctx context.Context) (model.Settings, error)
}

// ProviderFactory builds a search provider from the current settings.
type ProviderFactory func(settings model.Settings) search.Provider

// Pipeline runs the discovery-to-report state machine for one run at a time.
// A single Pipeline may serve concurrent runs; it holds no per-run state.
type Pipeline struct {
	cfg         *config.Config
	store       store.Store
	settings    SettingsSource
	newProvider ProviderFactory
	breakers    *resilience.ServiceBreakers
	fetcher     fetch.Fetcher
	extractors  *extract.Registry
	catalog     *vertical.Catalog
	now         func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithProviderFactory overrides how the search provider is built.
func WithProviderFactory(fn ProviderFactory) Option {
	return func(p *Pipeline) { p.newProvider = fn }
}

// WithBreakers sets the circuit breaker registry shared by every search
// provider the pipeline builds.
func WithBreakers(sb *resilience.ServiceBreakers) Option {
	return func(p *Pipeline) { p.breakers = sb }
}

// WithSearchProvider pins the search provider regardless of settings.
func WithSearchProvider(sp search.Provider) Option {
	return func(p *Pipeline) {
		p.newProvider = func(model.Settings) search.Provider { return sp }
	}
}

// WithExtractors replaces the default extractor registry.
func WithExtractors(r *extract.Registry) Option {
	return func(p *Pipeline) { p.extractors = r }
}

// WithCatalog replaces the built-in vertical profiles.
func WithCatalog(c *vertical.Catalog) Option {
	return func(p *Pipeline) { p.catalog = c }
}

// WithClock sets the clock used for staleness checks and fetch timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline.
func New(cfg *config.Config, st store.Store, settings SettingsSource, fetcher fetch.Fetcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		store:      st,
		settings:   settings,
		fetcher:    fetcher,
		extractors: extract.Default(),
		catalog:    vertical.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	p.newProvider = func(s model.Settings) search.Provider { return search.New(s, cfg.Search, p.breakers) }
	for _, o := range opts {
		o(p)
	}
	return p
}

// NewFetcher builds the source fetcher from config: a local HTTP fetcher,
// followed by the Jina reader when the fallback is enabled and a key is set.
func NewFetcher(cfg *config.Config) fetch.Fetcher {
	local := fetch.NewLocal(fetch.Config{
		Timeout:      time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxChars:     cfg.Fetch.MaxChars,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		UserAgent:    cfg.Fetch.UserAgent,
	}, &http.Client{})
	if !cfg.Fetch.JinaFallback || cfg.Search.JinaKey == "" {
		return local
	}
	jc := jina.NewClient(cfg.Search.JinaKey, jina.WithBaseURL(cfg.Search.JinaReadBaseURL))
	return fetch.NewChain(local, fetch.NewJina(jc, cfg.Fetch.MaxChars))
}

// runState is what the phases of a single run share.
type runState struct {
	run      *model.Run
	project  *model.Project
	settings model.Settings
	profile  vertical.Profile
	log      *zap.Logger
}

// errSkipped stops a run at a checkpoint after it was cancelled.
var errSkipped = eris.New("pipeline: run skipped")

// Run orchestrates runID to a terminal state. A run that is already SKIPPED
// returns nil without any write. A run-fatal error moves the run to ERROR
// and is returned.
func (p *Pipeline) Run(ctx context.Context, runID string) error {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load run %s", runID)
	}
	log := zap.L().With(zap.String("run_id", runID))

	if run.Status == model.RunStatusSkipped {
		log.Info("pipeline: run skipped before start")
		return nil
	}
	if run.Status.Terminal() {
		return eris.Errorf("pipeline: run %s is already %s", runID, run.Status)
	}

	rs := &runState{run: run, log: log}
	start := time.Now()
	if err := p.execute(ctx, rs); err != nil {
		if eris.Is(err, errSkipped) {
			log.Info("pipeline: run cancelled", zap.Duration("elapsed", time.Since(start)))
			return nil
		}
		return p.fail(ctx, rs, err)
	}
	log.Info("pipeline: run complete", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (p *Pipeline) execute(ctx context.Context, rs *runState) error {
	project, err := p.store.GetProject(ctx, rs.run.ProjectID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load project %s", rs.run.ProjectID)
	}
	rs.project = project
	rs.settings = p.loadSettings(ctx, rs.log)
	rs.profile = p.catalog.Resolve(project)

	sources, err := p.discover(ctx, rs)
	if err != nil {
		return err
	}
	if err := p.checkpoint(ctx, rs); err != nil {
		return err
	}

	if err := p.extractEntities(ctx, rs, sources); err != nil {
		return err
	}
	if err := p.checkpoint(ctx, rs); err != nil {
		return err
	}

	reportID, err := p.synthesize(ctx, rs)
	if err != nil {
		return err
	}
	if err := p.checkpoint(ctx, rs); err != nil {
		return err
	}

	if err := p.qa(ctx, rs); err != nil {
		return err
	}

	p.setStatus(ctx, rs, model.RunStatusComplete, "Report ready: "+reportID)
	return nil
}

func (p *Pipeline) loadSettings(ctx context.Context, log *zap.Logger) model.Settings {
	fallback := model.Settings{StalenessDays: p.cfg.Pipeline.StaleDays}.WithDefaults()
	if p.settings == nil {
		return fallback
	}
	s, err := p.settings.Get(ctx)
	if err != nil {
		log.Warn("pipeline: settings unavailable, using defaults", zap.Error(err))
		return fallback
	}
	return s.WithDefaults()
}

// setStatus persists a transition. Failures are logged, never fatal.
func (p *Pipeline) setStatus(ctx context.Context, rs *runState, status model.RunStatus, note string) {
	if !model.CanTransition(rs.run.Status, status) {
		rs.log.Debug("pipeline: unexpected transition",
			zap.String("from", string(rs.run.Status)),
			zap.String("to", string(status)),
		)
	}
	if err := p.store.UpdateRunStatus(ctx, rs.run.ID, status, note); err != nil {
		rs.log.Warn("pipeline: failed to update status",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	rs.run.Status = status
	rs.log.Info("pipeline: status", zap.String("status", string(status)), zap.String("note", note))
}

// appendLog writes a run-visible log line. Failures are logged, never fatal.
func (p *Pipeline) appendLog(ctx context.Context, rs *runState, line string) {
	if err := p.store.AppendRunLog(ctx, rs.run.ID, line); err != nil {
		rs.log.Warn("pipeline: failed to append run log", zap.String("line", line), zap.Error(err))
	}
}

// checkpoint re-reads the run and stops it when it has been cancelled.
// A read failure does not stop the run.
func (p *Pipeline) checkpoint(ctx context.Context, rs *runState) error {
	cur, err := p.store.GetRun(ctx, rs.run.ID)
	if err != nil {
		rs.log.Warn("pipeline: cancellation check failed", zap.Error(err))
		return nil
	}
	if cur.Status == model.RunStatusSkipped {
		rs.run.Status = cur.Status
		return errSkipped
	}
	return nil
}

// fail moves the run to ERROR and records the error with its trace. A run
// cancelled while the failing phase was in flight stays SKIPPED and the
// error is dropped. Writes use a context that survives cancellation of ctx.
func (p *Pipeline) fail(ctx context.Context, rs *runState, err error) error {
	wctx := context.WithoutCancel(ctx)
	if cur, gerr := p.store.GetRun(wctx, rs.run.ID); gerr == nil && cur.Status == model.RunStatusSkipped {
		rs.run.Status = cur.Status
		rs.log.Info("pipeline: run cancelled before failure was recorded", zap.Error(err))
		return nil
	}
	msg := err.Error()
	rs.log.Error("pipeline: run failed", zap.Error(err))
	p.setStatus(wctx, rs, model.RunStatusError, "Error: "+msg)
	p.appendLog(wctx, rs, fmt.Sprintf("FATAL ERROR: %s\n%s", msg, eris.ToString(err, true)))
	return err
}

func concurrency(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
