// Package search discovers candidate sources through a pluggable web search
// backend.
package search

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/pkg/jina"
	"github.com/sells-group/intel-cli/pkg/serpapi"
	"github.com/sells-group/intel-cli/pkg/tavily"
)

// Backend names accepted in settings.
const (
	BackendNoop       = "noop"
	BackendTavily     = "tavily"
	BackendSerpAPI    = "serpapi"
	BackendJina       = "jina"
	BackendGoogleNews = "googlenews"
)

// Result is one search hit.
type Result struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Source      string     `json:"source,omitempty"`
}

// Options tunes a single search call.
type Options struct {
	Num           int
	FreshnessDays int
}

// Provider is a web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// New picks a backend by settings.SearchProvider, falling back to the
// configured provider. Keys come from settings first, then config. An unknown
// name or a missing key yields the no-op provider. The backend's breaker is
// taken from breakers, which callers share across providers so a dead
// backend stays tripped between runs. A nil breakers disables the breaker.
func New(settings model.Settings, cfg config.SearchConfig, breakers *resilience.ServiceBreakers) Provider {
	name := strings.ToLower(strings.TrimSpace(settings.SearchProvider))
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(cfg.Provider))
	}

	key := func(k, fallback string) string {
		if v := settings.APIKeys[k]; v != "" {
			return v
		}
		return fallback
	}

	var p Provider
	switch name {
	case "", BackendNoop:
		return Noop{}
	case BackendTavily:
		if k := key(BackendTavily, cfg.TavilyKey); k != "" {
			p = NewTavily(tavily.NewClient(k, tavily.WithBaseURL(cfg.TavilyBaseURL)))
		}
	case BackendSerpAPI:
		if k := key(BackendSerpAPI, cfg.SerpAPIKey); k != "" {
			p = NewSerpAPI(serpapi.NewClient(k, serpapi.WithBaseURL(cfg.SerpAPIBaseURL)))
		}
	case BackendJina:
		if k := key(BackendJina, cfg.JinaKey); k != "" {
			p = NewJina(jina.NewClient(k, jina.WithSearchBaseURL(cfg.JinaSearchBaseURL)))
		}
	case BackendGoogleNews:
		p = NewGoogleNews(cfg.GoogleNewsBaseURL, nil)
	}

	if p == nil {
		zap.L().Warn("search: provider unavailable, using noop",
			zap.String("provider", name),
		)
		return Noop{}
	}
	var cb *resilience.CircuitBreaker
	if breakers != nil {
		cb = breakers.Get(p.Name())
	}
	return Guard(p, cfg.RatePerSec, cfg.Burst, cb)
}

// Noop returns no results and never errors.
type Noop struct{}

// Name implements Provider.
func (Noop) Name() string { return BackendNoop }

// Search implements Provider.
func (Noop) Search(context.Context, string, Options) ([]Result, error) { return nil, nil }

// guarded throttles a provider and fails fast once its breaker opens.
type guarded struct {
	inner   Provider
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// Guard wraps p with a token-bucket limiter and a circuit breaker.
// A non-positive rate disables throttling.
func Guard(p Provider, perSec float64, burst int, cb *resilience.CircuitBreaker) Provider {
	limit := rate.Inf
	if perSec > 0 {
		limit = rate.Limit(perSec)
	}
	if burst <= 0 {
		burst = 1
	}
	return &guarded{inner: p, limiter: rate.NewLimiter(limit, burst), breaker: cb}
}

func (g *guarded) Name() string { return g.inner.Name() }

func (g *guarded) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if g.breaker == nil {
		return g.inner.Search(ctx, query, opts)
	}
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) ([]Result, error) {
		return g.inner.Search(ctx, query, opts)
	})
}

// Domain returns the host of rawURL without a leading "www.".
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate parses the date formats search backends return. Relative dates
// ("3 days ago") and unknown formats yield nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
