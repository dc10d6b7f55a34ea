package fetch

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/pkg/jina"
)

// challengeSignatures mark reader output that is a bot wall rather than content.
var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
}

// Jina fetches pages through the Jina Reader. Three consecutive failures
// open its breaker for a minute so the chain stops waiting on it.
type Jina struct {
	client   jina.Client
	maxChars int
	breaker  *resilience.CircuitBreaker
}

// NewJina wraps a Jina Reader client as a Fetcher.
func NewJina(client jina.Client, maxChars int) *Jina {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Jina{
		client:   client,
		maxChars: maxChars,
		breaker: resilience.NewCircuitBreaker("jina_reader", resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
		}),
	}
}

// Name implements Fetcher.
func (j *Jina) Name() string { return "jina" }

// Fetch implements Fetcher.
func (j *Jina) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	return resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*Page, error) {
		resp, err := j.client.Read(ctx, targetURL)
		if err != nil {
			return nil, err
		}
		if unusable(resp) {
			return nil, eris.New("jina: response has no usable content")
		}
		return &Page{
			URL:        targetURL,
			Title:      resp.Data.Title,
			Text:       Truncate(CleanText(resp.Data.Content), j.maxChars),
			StatusCode: 200,
			Source:     j.Name(),
		}, nil
	})
}

func unusable(resp *jina.ReadResponse) bool {
	if resp == nil || (resp.Code != 0 && resp.Code != 200) {
		return true
	}
	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return true
	}
	if len(content) < 1000 {
		lower := strings.ToLower(content)
		for _, sig := range challengeSignatures {
			if strings.Contains(lower, sig) {
				return true
			}
		}
	}
	return false
}
