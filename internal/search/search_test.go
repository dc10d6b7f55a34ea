package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/pkg/jina"
	"github.com/sells-group/intel-cli/pkg/serpapi"
	"github.com/sells-group/intel-cli/pkg/tavily"
)

func TestNew_SelectsBackend(t *testing.T) {
	cfg := config.SearchConfig{TavilyKey: "cfg-tvly"}

	tests := []struct {
		name     string
		settings model.Settings
		want     string
	}{
		{"empty is noop", model.Settings{}, BackendNoop},
		{"tavily from config key", model.Settings{SearchProvider: "Tavily"}, BackendTavily},
		{"serpapi without key", model.Settings{SearchProvider: "serpapi"}, BackendNoop},
		{"serpapi with settings key", model.Settings{SearchProvider: "serpapi", APIKeys: map[string]string{"serpapi": "k"}}, BackendSerpAPI},
		{"jina with settings key", model.Settings{SearchProvider: "jina", APIKeys: map[string]string{"jina": "k"}}, BackendJina},
		{"googlenews needs no key", model.Settings{SearchProvider: " googlenews "}, BackendGoogleNews},
		{"unknown", model.Settings{SearchProvider: "bing"}, BackendNoop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.settings, cfg, nil).Name())
		})
	}
}

func TestNew_ConfigProviderFallback(t *testing.T) {
	p := New(model.Settings{}, config.SearchConfig{Provider: "googlenews"}, nil)
	assert.Equal(t, BackendGoogleNews, p.Name())
}

func TestNew_SharesBreakersAcrossProviders(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	cfg := config.SearchConfig{Provider: BackendTavily, TavilyKey: "k", TavilyBaseURL: srv.URL}

	_, err := New(model.Settings{}, cfg, breakers).Search(context.Background(), "acme", Options{Num: 5})
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())

	// A provider built later from fresh settings reuses the tripped breaker.
	_, err = New(model.Settings{}, cfg, breakers).Search(context.Background(), "acme", Options{Num: 5})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, resilience.CircuitOpen, breakers.States()[BackendTavily])

	// Separate registries do not share state.
	_, err = New(model.Settings{}, cfg, resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())).
		Search(context.Background(), "acme", Options{Num: 5})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNoop(t *testing.T) {
	res, err := Noop{}.Search(context.Background(), "anything", Options{Num: 10})
	require.NoError(t, err)
	assert.Empty(t, res)
}

type stubProvider struct {
	calls int
	err   error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Search(context.Context, string, Options) ([]Result, error) {
	s.calls++
	return []Result{{URL: "https://a.com"}}, s.err
}

func TestGuard_BreakerOpens(t *testing.T) {
	inner := &stubProvider{err: errors.New("down")}
	cb := resilience.NewCircuitBreaker("stub", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	p := Guard(inner, 0, 0, cb)

	for range 3 {
		_, err := p.Search(context.Background(), "q", Options{})
		require.Error(t, err)
	}
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, "stub", p.Name())
}

func TestGuard_RateLimitHonorsContext(t *testing.T) {
	p := Guard(&stubProvider{}, 0.001, 1, nil)

	_, err := p.Search(context.Background(), "q", Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Search(ctx, "q", Options{})
	require.Error(t, err)
}

func TestTavilyBackend_FreshnessFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[
			{"url":"https://www.acme.com/pricing","title":"Pricing","content":"From $10","published_date":"2026-01-02"},
			{"url":"https://old.com/post","title":"Old","content":"x","published_date":"2020-01-01"},
			{"url":"https://nodate.com","title":"No date","content":"y"}
		]}`))
	}))
	defer srv.Close()

	p := NewTavily(tavily.NewClient("k", tavily.WithBaseURL(srv.URL)))
	p.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }

	res, err := p.Search(context.Background(), "acme", Options{Num: 10, FreshnessDays: 180})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "acme.com", res[0].Source)
	require.NotNil(t, res[0].PublishedAt)
	assert.Equal(t, 2026, res[0].PublishedAt.Year())
	assert.Nil(t, res[1].PublishedAt)
}

func TestSerpAPIBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"organic_results":[
			{"link":"https://g2.com/acme","title":"Acme","snippet":"reviews","date":"Mar 3, 2026"},
			{"link":"https://x.com/y","title":"Y","snippet":"z","date":"2 days ago"}
		]}`))
	}))
	defer srv.Close()

	p := NewSerpAPI(serpapi.NewClient("k", serpapi.WithBaseURL(srv.URL)))
	res, err := p.Search(context.Background(), "acme", Options{})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "g2.com", res[0].Source)
	require.NotNil(t, res[0].PublishedAt)
	assert.Equal(t, time.March, res[0].PublishedAt.Month())
	assert.Nil(t, res[1].PublishedAt)
}

func TestJinaBackend_Truncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":[
			{"title":"A","url":"https://a.com","description":"da"},
			{"title":"B","url":"https://b.com","content":"cb"},
			{"title":"C","url":"https://c.com"}
		]}`))
	}))
	defer srv.Close()

	p := NewJina(jina.NewClient("k", jina.WithSearchBaseURL(srv.URL)))
	res, err := p.Search(context.Background(), "acme", Options{Num: 2})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "da", res[0].Snippet)
	assert.Equal(t, "cb", res[1].Snippet)
}

const newsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Google News</title>
<item><title>Acme raises Series B</title><link>https://news.example.com/acme-b</link>
<pubDate>Mon, 05 Jan 2026 10:00:00 GMT</pubDate><description>Acme Billing funding</description></item>
<item><title>No link</title><link></link></item>
<item><title>Undated</title><link>https://blog.example.com/post</link></item>
</channel></rss>`

func TestGoogleNewsBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rss/search", r.URL.Path)
		assert.Equal(t, "acme billing", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(newsFeed))
	}))
	defer srv.Close()

	p := NewGoogleNews(srv.URL, srv.Client())
	res, err := p.Search(context.Background(), "acme billing", Options{Num: 10})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "news.example.com", res[0].Source)
	require.NotNil(t, res[0].PublishedAt)
	assert.Equal(t, 5, res[0].PublishedAt.Day())
	assert.Nil(t, res[1].PublishedAt)
}

func TestGoogleNewsBackend_BadFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not a feed"))
	}))
	defer srv.Close()

	_, err := NewGoogleNews(srv.URL, srv.Client()).Search(context.Background(), "q", Options{})
	require.Error(t, err)
}

func TestParseDate(t *testing.T) {
	assert.NotNil(t, ParseDate("2026-01-02T03:04:05Z"))
	assert.NotNil(t, ParseDate("2026-01-02"))
	assert.NotNil(t, ParseDate("January 2, 2026"))
	assert.Nil(t, ParseDate("yesterday"))
	assert.Nil(t, ParseDate(""))
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "acme.com", Domain("https://WWW.Acme.com/x"))
	assert.Equal(t, "", Domain("://bad"))
}
