package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/query"
	"github.com/sells-group/intel-cli/internal/relevance"
	"github.com/sells-group/intel-cli/internal/search"
)

// queryResult is one query's slot in the discovery fan-out.
type queryResult struct {
	results []search.Result
	err     error
}

// discover runs every query, filters the results for relevance and persists
// the picked results as sources.
func (p *Pipeline) discover(ctx context.Context, rs *runState) ([]model.Source, error) {
	p.setStatus(ctx, rs, model.RunStatusDiscovering, "Starting discovery...")

	tokens := relevance.NewTokenSet(rs.project)

	for _, name := range rs.project.Competitors {
		if name == "" {
			continue
		}
		if _, err := p.store.UpsertCompetitor(ctx, rs.run.ID, name, ""); err != nil {
			rs.log.Warn("pipeline: failed to seed competitor", zap.String("name", name), zap.Error(err))
		}
	}

	in := query.FromProject(rs.project, rs.profile)
	in.Max = p.cfg.Pipeline.MaxQueries
	queries := query.Build(in)

	provider := p.newProvider(rs.settings)
	rs.log.Info("pipeline: discovery",
		zap.String("provider", provider.Name()),
		zap.Int("queries", len(queries)),
	)

	opts := search.Options{
		Num:           concurrency(p.cfg.Pipeline.ResultsPerQuery, defaultResultsPerQuery),
		FreshnessDays: rs.settings.StalenessDays,
	}
	slots := make([]queryResult, len(queries))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency(p.cfg.Pipeline.SearchConcurrency, defaultSearchConcurrency))
	for i, q := range queries {
		g.Go(func() error {
			res, err := provider.Search(gCtx, q, opts)
			slots[i] = queryResult{results: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	seen := relevance.Seen{}
	var sources []model.Source
	for i, q := range queries {
		if err := slots[i].err; err != nil {
			p.appendLog(ctx, rs, fmt.Sprintf("Search failed for \"%s\": %s", q, err.Error()))
			continue
		}
		for _, r := range tokens.Select(slots[i].results, seen) {
			sources = append(sources, p.newSource(ctx, rs, r))
		}
	}

	for i := range sources {
		if err := p.store.CreateSource(ctx, &sources[i]); err != nil {
			return nil, eris.Wrap(err, "pipeline: persist sources")
		}
	}

	rs.log.Info("pipeline: sources discovered", zap.Int("sources", len(sources)))
	return sources, nil
}

// newSource converts a picked search result, flagging it stale when it was
// published before the staleness threshold. Results without a date are
// never stale.
func (p *Pipeline) newSource(ctx context.Context, rs *runState, r search.Result) model.Source {
	u := relevance.NormalizeURL(r.URL)
	src := model.Source{
		RunID:       rs.run.ID,
		URL:         u,
		Title:       r.Title,
		Domain:      search.Domain(u),
		PublishedAt: r.PublishedAt,
		Status:      model.SourceStatusOK,
	}
	if r.PublishedAt == nil {
		return src
	}

	threshold := time.Duration(rs.settings.StalenessDays) * 24 * time.Hour
	if p.now().Sub(*r.PublishedAt) > threshold {
		published := r.PublishedAt.UTC().Format(time.RFC3339)
		src.Notes = model.StaleNotePrefix + ": published " + published
		p.appendLog(ctx, rs, fmt.Sprintf("Warning: Stale source detected - %s (published: %s)", u, published))
	}
	return src
}
