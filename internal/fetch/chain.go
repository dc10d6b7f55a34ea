package fetch

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Chain tries fetchers in order and returns the first success.
type Chain struct {
	fetchers []Fetcher
}

// NewChain creates a Chain. Fetchers are tried in the given order.
func NewChain(fetchers ...Fetcher) *Chain {
	return &Chain{fetchers: fetchers}
}

// Name implements Fetcher.
func (c *Chain) Name() string { return "chain" }

// Fetch implements Fetcher. The error of the first fetcher is reported when
// every fetcher fails, since later fetchers are fallbacks.
func (c *Chain) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	var firstErr error
	for _, f := range c.fetchers {
		page, err := f.Fetch(ctx, targetURL)
		if err == nil {
			return page, nil
		}
		zap.L().Debug("fetch: fetcher failed, trying next",
			zap.String("fetcher", f.Name()),
			zap.String("url", targetURL),
			zap.Error(err),
		)
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	if firstErr == nil {
		return nil, eris.Errorf("fetch: no fetcher configured for %s", targetURL)
	}
	return nil, firstErr
}

// Outcome is the result of fetching one URL in a batch.
type Outcome struct {
	URL  string
	Page *Page
	Err  error
}

// FetchAll fetches urls with at most limit requests in flight. Outcomes are
// returned in input order; failures are reported per URL and never abort
// the batch.
func FetchAll(ctx context.Context, f Fetcher, urls []string, limit int) []Outcome {
	if limit <= 0 {
		limit = 1
	}
	out := make([]Outcome, len(urls))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, u := range urls {
		g.Go(func() error {
			page, err := f.Fetch(gCtx, u)
			out[i] = Outcome{URL: u, Page: page, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return out
}
