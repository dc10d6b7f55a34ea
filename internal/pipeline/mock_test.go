package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/fetch"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/search"
	"github.com/sells-group/intel-cli/internal/store"
)

// --- Search ---

// fakeProvider answers every query with the same results.
type fakeProvider struct {
	results []search.Result
	err     error
	calls   atomic.Int32
	onCall  func()
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Search(context.Context, string, search.Options) ([]search.Result, error) {
	f.calls.Add(1)
	if f.onCall != nil {
		f.onCall()
	}
	return f.results, f.err
}

// --- Fetch ---

type fakeFetcher struct {
	pages map[string]*fetch.Page
	calls atomic.Int32
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*fetch.Page, error) {
	f.calls.Add(1)
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return nil, errors.New("timeout")
}

// --- Worker ---

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) ClaimJob(ctx context.Context) (*model.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockQueue) CompleteJob(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func (m *mockQueue) FailJob(ctx context.Context, jobID, msg string) error {
	return m.Called(ctx, jobID, msg).Error(0)
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, runID string) error {
	return m.Called(ctx, runID).Error(0)
}

// --- Store ---

// failingStore fails finding writes.
type failingStore struct {
	store.Store
}

func (failingStore) CreateFindings(context.Context, []model.Finding) error {
	return errors.New("disk full")
}

// cancelThenFailStore cancels the run, then fails the finding write, as a
// user cancel racing a fatal error would.
type cancelThenFailStore struct {
	store.Store
	runID string
}

func (s cancelThenFailStore) CreateFindings(ctx context.Context, _ []model.Finding) error {
	if err := s.Store.UpdateRunStatus(ctx, s.runID, model.RunStatusSkipped, "Cancelled by user"); err != nil {
		return err
	}
	return errors.New("disk full")
}

type fixedSettings struct {
	settings model.Settings
}

func (f fixedSettings) Get(context.Context) (model.Settings, error) { return f.settings, nil }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			SearchConcurrency: 2,
			FetchConcurrency:  2,
			StaleDays:         180,
			MaxQueries:        20,
			ResultsPerQuery:   10,
		},
	}
}

func acmeProject() *model.Project {
	return &model.Project{
		Name:        "Acme Billing",
		Category:    "Billing",
		Industry:    "Fintech",
		Keywords:    []string{"webhooks", "invoicing"},
		Competitors: []string{"Stripe"},
		Segments:    []string{"SMB"},
	}
}

var oldPublished = time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)

func acmeResults() []search.Result {
	return []search.Result{
		{URL: "https://stripe.com/pricing#plans", Title: "Stripe | Pricing", Snippet: "Billing pricing with webhooks"},
		{URL: "https://www.chargebee.com/features", Title: "Chargebee - Subscription billing", Snippet: "Recurring billing"},
		{URL: "https://old.example.com/billing-review", Title: "Billing review", Snippet: "A billing roundup", PublishedAt: &oldPublished},
	}
}

func acmePages() map[string]*fetch.Page {
	return map[string]*fetch.Page{
		"https://stripe.com/pricing": {
			URL:   "https://stripe.com/pricing",
			Title: "Stripe | Pricing",
			Text: "Pricing\n\nStarter - $10/mo\nGrowth - $49/mo\n\n" +
				"Webhooks and a REST API for every plan. SSO and audit logs on Growth. " +
				"SOC 2 Type II. Connect Salesforce and Slack.",
		},
		"https://www.chargebee.com/features": {
			URL:   "https://www.chargebee.com/features",
			Title: "Chargebee - Subscription billing",
			Text: "Chargebee ships webhooks, a REST API and SSO. Dashboards for revenue reporting. " +
				"Works with HubSpot and Salesforce. GDPR ready.",
		},
	}
}

// seedRun stores the Acme project and a NEW run.
func seedRun(t *testing.T, st store.Store) (*model.Project, *model.Run) {
	t.Helper()
	ctx := context.Background()
	p := acmeProject()
	require.NoError(t, st.CreateProject(ctx, p))
	run, err := st.CreateRun(ctx, p.ID)
	require.NoError(t, err)
	return p, run
}

// skipOnce cancels a run the first time it is called. It runs on search
// goroutines, so failures surface through the run's final status instead.
func skipOnce(st store.Store, runID string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = st.UpdateRunStatus(context.Background(), runID, model.RunStatusSkipped, "Cancelled by user")
		})
	}
}
