// Package relevance scores search results against a run's project terms and
// picks which results become sources.
package relevance

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/search"
)

// fallbackPicks is how many unseen results are kept when none score.
const fallbackPicks = 3

var (
	termSplit        = regexp.MustCompile(`[\s/\-|]+`)
	descriptionSplit = regexp.MustCompile(`[\s,;.\-/]+`)
)

// TokenSet holds the lowercased terms a result is scored against.
type TokenSet struct {
	tokens      map[string]struct{}
	competitors []string
}

// NewTokenSet builds the token set for a project. Name, category and
// keywords contribute tokens longer than two characters, the description
// tokens longer than three, and competitors and segments are kept whole.
func NewTokenSet(p *model.Project) *TokenSet {
	ts := &TokenSet{tokens: make(map[string]struct{})}
	if p == nil {
		return ts
	}

	for _, field := range append([]string{p.Name, p.Category}, p.Keywords...) {
		ts.addSplit(field, termSplit, 2)
	}
	ts.addSplit(p.Description, descriptionSplit, 3)

	for _, c := range p.Competitors {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		ts.tokens[c] = struct{}{}
		ts.competitors = append(ts.competitors, c)
	}
	for _, s := range p.Segments {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			ts.tokens[s] = struct{}{}
		}
	}
	return ts
}

func (ts *TokenSet) addSplit(s string, re *regexp.Regexp, minLen int) {
	for _, tok := range re.Split(strings.ToLower(s), -1) {
		if len(tok) > minLen {
			ts.tokens[tok] = struct{}{}
		}
	}
}

// Len returns the number of distinct tokens.
func (ts *TokenSet) Len() int { return len(ts.tokens) }

// Score rates a result. An empty token set accepts everything with a score
// of 1. Otherwise each token found in the title, snippet or URL adds 2 when
// it is at least six characters long and 1 otherwise, and each competitor
// name found adds a further 2.
func (ts *TokenSet) Score(r search.Result) int {
	if len(ts.tokens) == 0 {
		return 1
	}
	body := strings.ToLower(r.Title + " " + r.Snippet + " " + r.URL)

	score := 0
	for tok := range ts.tokens {
		if len(tok) < 3 || !strings.Contains(body, tok) {
			continue
		}
		if len(tok) >= 6 {
			score += 2
		} else {
			score++
		}
	}
	for _, c := range ts.competitors {
		if strings.Contains(body, c) {
			score += 2
		}
	}
	return score
}

// Seen tracks normalized URLs across every query of a run.
type Seen map[string]struct{}

// Select picks results from one query's response. Results whose normalized
// URL is already in seen, or that has no host, are dropped; of the rest,
// those scoring above zero are kept, or the first three when none do. Picked
// URLs are added to seen.
func (ts *TokenSet) Select(results []search.Result, seen Seen) []search.Result {
	var candidates []search.Result
	for _, r := range results {
		if !HasHost(r.URL) {
			continue
		}
		if _, dup := seen[NormalizeURL(r.URL)]; dup {
			continue
		}
		candidates = append(candidates, r)
	}

	var picked []search.Result
	for _, r := range candidates {
		if ts.Score(r) > 0 {
			picked = append(picked, r)
		}
	}
	if len(picked) == 0 && len(candidates) > 0 {
		picked = candidates[:min(fallbackPicks, len(candidates))]
	}

	out := make([]search.Result, 0, len(picked))
	for _, r := range picked {
		key := NormalizeURL(r.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// NormalizeURL reduces a URL to scheme, host and path. The query and
// fragment are dropped. Unparseable URLs are returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host + u.Path
}

// HasHost reports whether raw parses as an absolute URL with a host.
func HasHost(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && u.Host != ""
}
