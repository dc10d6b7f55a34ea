// Package serpapi provides a client for the SerpAPI Google search endpoint.
package serpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/resilience"
)

const maxNum = 10

// Client defines the SerpAPI search operations.
type Client interface {
	Search(ctx context.Context, query string, num, freshnessDays int) (*SearchResponse, error)
}

// SearchResponse is the subset of the SerpAPI response the pipeline reads.
type SearchResponse struct {
	OrganicResults []OrganicResult `json:"organic_results"`
	Error          string          `json:"error,omitempty"`
}

// OrganicResult is one Google organic hit.
type OrganicResult struct {
	Position int    `json:"position"`
	Link     string `json:"link"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Date     string `json:"date"`
}

// Option configures the SerpAPI client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a new SerpAPI client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://serpapi.com",
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// freshnessToken maps a day window to Google's coarse qdr buckets.
func freshnessToken(days int) string {
	switch {
	case days <= 0:
		return ""
	case days <= 7:
		return "qdr:w"
	case days <= 30:
		return "qdr:m"
	default:
		return "qdr:y"
	}
}

func (c *httpClient) Search(ctx context.Context, query string, num, freshnessDays int) (*SearchResponse, error) {
	if num <= 0 || num > maxNum {
		num = maxNum
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("num", strconv.Itoa(num))
	params.Set("api_key", c.apiKey)
	if tbs := freshnessToken(freshnessDays); tbs != "" {
		params.Set("tbs", tbs)
	}
	reqURL := c.baseURL + "/search.json?" + params.Encode()

	resp, err := resilience.DoHTTP(ctx, c.http, c.retry, "serpapi", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: search request failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("serpapi", resp.StatusCode, resp.Body)
	}

	var out SearchResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, eris.Wrap(err, "serpapi: unmarshal response")
	}
	if out.Error != "" {
		return nil, eris.Errorf("serpapi: %s", out.Error)
	}
	return &out, nil
}
