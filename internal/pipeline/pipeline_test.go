package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/internal/search"
	"github.com/sells-group/intel-cli/internal/store"
)

func logLines(t *testing.T, st store.Store, runID string) []string {
	t.Helper()
	logs, err := st.ListRunLogs(context.Background(), runID)
	require.NoError(t, err)
	lines := make([]string, len(logs))
	for i, l := range logs {
		lines[i] = l.Line
	}
	return lines
}

func hasLine(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func TestRun_CompletesWithReport(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, run := seedRun(t, st)

	provider := &fakeProvider{results: acmeResults()}
	fetcher := &fakeFetcher{pages: acmePages()}
	p := New(testConfig(), st, fixedSettings{settings: model.Settings{StalenessDays: 180}}, fetcher,
		WithSearchProvider(provider))

	require.NoError(t, p.Run(ctx, run.ID))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.True(t, strings.HasPrefix(got.Note, "Report ready: "))
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	sources, err := st.ListSources(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, sources, 3)
	assert.Equal(t, "https://stripe.com/pricing", sources[0].URL)
	assert.Equal(t, model.SourceStatusOK, sources[0].Status)
	assert.Contains(t, sources[0].Body(), "Starter")
	assert.Equal(t, model.SourceStatusError, sources[2].Status)
	assert.True(t, sources[2].Stale())
	assert.Contains(t, sources[2].Notes, "timeout")
	assert.Equal(t, 3, int(fetcher.calls.Load()))

	comps, err := st.ListCompetitors(ctx, run.ID)
	require.NoError(t, err)
	names := make(map[string]string)
	for _, c := range comps {
		names[c.Name] = c.ID
	}
	require.Contains(t, names, "Stripe")
	assert.Contains(t, names, "Chargebee")

	pricing, err := st.ListPricingPoints(ctx, run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, pricing)
	for _, pp := range pricing {
		assert.Equal(t, names["Stripe"], pp.CompetitorID, "pricing attributed to the seeded competitor")
	}

	caps, err := st.ListCapabilities(ctx, run.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, caps)

	features, err := st.ListFeatures(ctx, run.ID)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, f := range features {
		assert.False(t, seen[f.Normalized], "feature %q kept twice", f.Normalized)
		seen[f.Normalized] = true
	}

	findings, err := st.ListFindings(ctx, run.ID, false)
	require.NoError(t, err)
	assert.NotEmpty(t, findings)

	r, err := st.LatestReport(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "Acme Billing Competitive Report", r.Headline)
	assert.Equal(t, "Report ready: "+r.ID, got.Note)
	assert.True(t, strings.HasPrefix(r.Body, "# Acme Billing Competitive Report"))
	assert.False(t, r.Approved)

	lines := logLines(t, st, run.ID)
	assert.True(t, hasLine(lines, "Warning: Stale source detected - https://old.example.com/billing-review (published: 2019-03-01T00:00:00Z)"))
	assert.True(t, hasLine(lines, "Fetch failed https://old.example.com/billing-review: timeout"))
	assert.True(t, hasLine(lines, "Guardrails: Low source count: Only 3 sources found."))
}

func TestRun_SkippedRunHasNoWrites(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, run := seedRun(t, st)
	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusSkipped, "Cancelled by user"))
	before, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)

	provider := &fakeProvider{results: acmeResults()}
	fetcher := &fakeFetcher{pages: acmePages()}
	p := New(testConfig(), st, nil, fetcher, WithSearchProvider(provider))

	require.NoError(t, p.Run(ctx, run.ID))

	after, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, logLines(t, st, run.ID))
	assert.Zero(t, provider.calls.Load())
	assert.Zero(t, fetcher.calls.Load())

	sources, err := st.ListSources(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestRun_CancelledDuringDiscovery(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, run := seedRun(t, st)

	provider := &fakeProvider{results: acmeResults(), onCall: skipOnce(st, run.ID)}
	fetcher := &fakeFetcher{pages: acmePages()}
	p := New(testConfig(), st, nil, fetcher, WithSearchProvider(provider))

	require.NoError(t, p.Run(ctx, run.ID))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSkipped, got.Status)
	assert.Equal(t, "Cancelled by user", got.Note)
	assert.Zero(t, fetcher.calls.Load(), "extraction must not start after cancel")

	r, err := st.LatestReport(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestRun_SearchFailuresArePhaseLocal(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, run := seedRun(t, st)

	provider := &fakeProvider{err: errors.New("quota exceeded")}
	p := New(testConfig(), st, nil, &fakeFetcher{}, WithSearchProvider(provider))

	require.NoError(t, p.Run(ctx, run.ID))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)

	lines := logLines(t, st, run.ID)
	assert.True(t, hasLine(lines, `Search failed for "Acme Billing competitor analysis": quota exceeded`))
	assert.True(t, hasLine(lines, "No capabilities extracted"))
	assert.True(t, hasLine(lines, "Guardrails: Low source count: Only 0 sources found."))
}

func TestRun_FailureAfterCancelStaysSkipped(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, run := seedRun(t, st)

	p := New(testConfig(), cancelThenFailStore{Store: st, runID: run.ID}, nil, &fakeFetcher{pages: acmePages()},
		WithSearchProvider(&fakeProvider{results: acmeResults()}))

	require.NoError(t, p.Run(ctx, run.ID))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSkipped, got.Status)
	assert.Equal(t, "Cancelled by user", got.Note)
	for _, line := range logLines(t, st, run.ID) {
		assert.NotContains(t, line, "FATAL ERROR")
	}
}

func TestRun_FatalErrorMarksRunError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, run := seedRun(t, st)

	p := New(testConfig(), failingStore{st}, nil, &fakeFetcher{pages: acmePages()},
		WithSearchProvider(&fakeProvider{results: acmeResults()}))

	err := p.Run(ctx, run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, got.Status)
	assert.True(t, strings.HasPrefix(got.Note, "Error: pipeline: persist findings"))
	assert.NotNil(t, got.CompletedAt)
	assert.True(t, hasLine(logLines(t, st, run.ID), "FATAL ERROR: pipeline: persist findings"))
}

func TestRun_TerminalRunRejected(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, run := seedRun(t, st)
	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusComplete, "done"))

	p := New(testConfig(), st, nil, &fakeFetcher{}, WithSearchProvider(search.Noop{}))
	err := p.Run(ctx, run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already COMPLETE")
}

func TestRun_MissingRun(t *testing.T) {
	st := newTestStore(t)
	p := New(testConfig(), st, nil, &fakeFetcher{}, WithSearchProvider(search.Noop{}))
	err := p.Run(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: load run nope")
}

func TestNewSource_Staleness(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, run := seedRun(t, st)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	p := New(testConfig(), st, nil, &fakeFetcher{}, WithClock(func() time.Time { return now }))
	rs := &runState{run: run, settings: model.Settings{StalenessDays: 30}, log: zap.NewNop()}

	recent := now.Add(-29 * 24 * time.Hour)
	old := now.Add(-31 * 24 * time.Hour)

	assert.False(t, p.newSource(ctx, rs, search.Result{URL: "https://a.example.com/x?utm=1"}).Stale())
	assert.False(t, p.newSource(ctx, rs, search.Result{URL: "https://b.example.com", PublishedAt: &recent}).Stale())

	src := p.newSource(ctx, rs, search.Result{URL: "https://c.example.com/p#frag", PublishedAt: &old})
	assert.True(t, src.Stale())
	assert.Equal(t, "https://c.example.com/p", src.URL)
	assert.Equal(t, "c.example.com", src.Domain)
	assert.Equal(t, "Stale source: published 2025-05-01T00:00:00Z", src.Notes)
}

func TestRebuildReport(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, run := seedRun(t, st)

	p := New(testConfig(), st, nil, &fakeFetcher{pages: acmePages()},
		WithSearchProvider(&fakeProvider{results: acmeResults()}))
	require.NoError(t, p.Run(ctx, run.ID))

	findings, err := st.ListFindings(ctx, run.ID, false)
	require.NoError(t, err)
	require.NotEmpty(t, findings)
	approved := true
	require.NoError(t, st.UpdateFindingReview(ctx, findings[0].ID, store.FindingReview{Approved: &approved}))

	r, err := p.RebuildReport(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, r.Approved)
	assert.Equal(t, ReviewedHeadline, r.Headline)
	assert.Contains(t, r.Body, findings[0].Text)

	latest, err := st.LatestReport(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, latest.ID)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
}

func TestNew_ProvidersShareBreakers(t *testing.T) {
	cfg := testConfig()
	cfg.Search.Provider = search.BackendGoogleNews
	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	p := New(cfg, newTestStore(t), nil, &fakeFetcher{}, WithBreakers(breakers))

	assert.Equal(t, search.BackendGoogleNews, p.newProvider(model.Settings{}).Name())
	assert.Equal(t, search.BackendGoogleNews, p.newProvider(model.Settings{}).Name())
	states := breakers.States()
	require.Len(t, states, 1)
	assert.Equal(t, resilience.CircuitClosed, states[search.BackendGoogleNews])
}
