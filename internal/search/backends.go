package search

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/pkg/jina"
	"github.com/sells-group/intel-cli/pkg/serpapi"
	"github.com/sells-group/intel-cli/pkg/tavily"
)

const defaultNum = 10

func num(opts Options, limit int) int {
	n := opts.Num
	if n <= 0 {
		n = defaultNum
	}
	if n > limit {
		n = limit
	}
	return n
}

// Tavily searches through the Tavily API.
type Tavily struct {
	client tavily.Client
	now    func() time.Time
}

// NewTavily creates a Tavily-backed provider.
func NewTavily(c tavily.Client) *Tavily {
	return &Tavily{client: c, now: time.Now}
}

// Name implements Provider.
func (t *Tavily) Name() string { return BackendTavily }

// Search implements Provider. Dated results older than the freshness window
// are dropped; undated results are kept.
func (t *Tavily) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	resp, err := t.client.Search(ctx, tavily.SearchRequest{
		Query:      query,
		MaxResults: num(opts, 20),
		Days:       opts.FreshnessDays,
	})
	if err != nil {
		return nil, err
	}

	var cutoff time.Time
	if opts.FreshnessDays > 0 {
		cutoff = t.now().AddDate(0, 0, -opts.FreshnessDays)
	}

	out := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		pub := ParseDate(r.PublishedDate)
		if pub != nil && !cutoff.IsZero() && pub.Before(cutoff) {
			continue
		}
		out = append(out, Result{
			URL:         r.URL,
			Title:       r.Title,
			Snippet:     r.Content,
			PublishedAt: pub,
			Source:      Domain(r.URL),
		})
	}
	return out, nil
}

// SerpAPI searches Google through SerpAPI.
type SerpAPI struct {
	client serpapi.Client
}

// NewSerpAPI creates a SerpAPI-backed provider.
func NewSerpAPI(c serpapi.Client) *SerpAPI { return &SerpAPI{client: c} }

// Name implements Provider.
func (s *SerpAPI) Name() string { return BackendSerpAPI }

// Search implements Provider.
func (s *SerpAPI) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	resp, err := s.client.Search(ctx, query, num(opts, 10), opts.FreshnessDays)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(resp.OrganicResults))
	for _, r := range resp.OrganicResults {
		out = append(out, Result{
			URL:         r.Link,
			Title:       r.Title,
			Snippet:     r.Snippet,
			PublishedAt: ParseDate(r.Date),
			Source:      Domain(r.Link),
		})
	}
	return out, nil
}

// Jina searches through Jina AI Search.
type Jina struct {
	client jina.Client
}

// NewJina creates a Jina-backed provider.
func NewJina(c jina.Client) *Jina { return &Jina{client: c} }

// Name implements Provider.
func (j *Jina) Name() string { return BackendJina }

// Search implements Provider. Jina has no result count parameter, so the
// response is truncated locally.
func (j *Jina) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	resp, err := j.client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	n := num(opts, 20)
	out := make([]Result, 0, n)
	for _, r := range resp.Data {
		if len(out) == n {
			break
		}
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		out = append(out, Result{
			URL:         r.URL,
			Title:       r.Title,
			Snippet:     snippet,
			PublishedAt: ParseDate(r.PublishedTime),
			Source:      Domain(r.URL),
		})
	}
	return out, nil
}

// GoogleNews searches the keyless Google News RSS endpoint.
type GoogleNews struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewGoogleNews creates a Google News RSS provider. A nil client uses a
// 20s-timeout default.
func NewGoogleNews(baseURL string, hc *http.Client) *GoogleNews {
	if baseURL == "" {
		baseURL = "https://news.google.com"
	}
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	return &GoogleNews{baseURL: strings.TrimRight(baseURL, "/"), http: hc, retry: resilience.DefaultRetryConfig()}
}

// Name implements Provider.
func (g *GoogleNews) Name() string { return BackendGoogleNews }

// Search implements Provider.
func (g *GoogleNews) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("hl", "en-US")
	params.Set("gl", "US")
	params.Set("ceid", "US:en")
	reqURL := g.baseURL + "/rss/search?" + params.Encode()

	resp, err := resilience.DoHTTP(ctx, g.http, g.retry, "googlenews", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, text/xml;q=0.8")
		return req, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "googlenews: search request failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("googlenews", resp.StatusCode, resp.Body)
	}

	feed, err := gofeed.NewParser().ParseString(string(resp.Body))
	if err != nil {
		return nil, eris.Wrap(err, "googlenews: parse feed")
	}

	n := num(opts, 50)
	out := make([]Result, 0, n)
	for _, it := range feed.Items {
		if len(out) == n {
			break
		}
		link := strings.TrimSpace(it.Link)
		if link == "" {
			continue
		}
		var pub *time.Time
		switch {
		case it.PublishedParsed != nil:
			t := it.PublishedParsed.UTC()
			pub = &t
		case it.UpdatedParsed != nil:
			t := it.UpdatedParsed.UTC()
			pub = &t
		}
		out = append(out, Result{
			URL:         link,
			Title:       strings.TrimSpace(it.Title),
			Snippet:     strings.TrimSpace(it.Description),
			PublishedAt: pub,
			Source:      Domain(link),
		})
	}
	return out, nil
}
