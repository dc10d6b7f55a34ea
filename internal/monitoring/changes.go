package monitoring

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/relevance"
)

// hashRunes bounds how much of a page feeds the content hash.
const hashRunes = 2000

// ChangeType describes how a matched source differs between runs.
type ChangeType string

const (
	ChangeContent ChangeType = "content"
	ChangeTitle   ChangeType = "title"
	ChangeBoth    ChangeType = "both"
)

// Severity levels shared by change summaries and alerts.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// SourceChange is a source present in both runs whose content or title moved.
type SourceChange struct {
	URL      string       `json:"url"`
	Type     ChangeType   `json:"type"`
	Previous model.Source `json:"previous"`
	Current  model.Source `json:"current"`
}

// Changes partitions two runs' sources by normalized URL.
type Changes struct {
	Added     []model.Source `json:"added"`
	Removed   []model.Source `json:"removed"`
	Modified  []SourceChange `json:"modified"`
	Unchanged []model.Source `json:"unchanged"`
}

// Total returns the number of added, removed and modified sources.
func (c Changes) Total() int {
	return len(c.Added) + len(c.Removed) + len(c.Modified)
}

// ChangeSummary condenses Changes for findings and alerts.
type ChangeSummary struct {
	TotalChanges int      `json:"total_changes"`
	Severity     string   `json:"severity"`
	Highlights   []string `json:"highlights"`
}

// ContentHash returns the hex sha256 of the first 2000 runes of text with
// runs of whitespace collapsed. Blank text hashes to "".
func ContentHash(text string) string {
	norm := strings.Join(strings.Fields(text), " ")
	if norm == "" {
		return ""
	}
	if r := []rune(norm); len(r) > hashRunes {
		norm = strings.TrimSpace(string(r[:hashRunes]))
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// DetectChanges matches prev and cur by normalized URL. Output slices keep
// the order of their input runs.
func DetectChanges(prev, cur []model.Source) Changes {
	var ch Changes

	prevByURL := make(map[string]model.Source, len(prev))
	for _, s := range prev {
		key := relevance.NormalizeURL(s.URL)
		if _, dup := prevByURL[key]; !dup {
			prevByURL[key] = s
		}
	}

	matched := make(map[string]bool, len(cur))
	for _, s := range cur {
		key := relevance.NormalizeURL(s.URL)
		if matched[key] {
			continue
		}
		matched[key] = true

		old, ok := prevByURL[key]
		if !ok {
			ch.Added = append(ch.Added, s)
			continue
		}

		contentMoved := ContentHash(old.Body()) != ContentHash(s.Body())
		titleMoved := old.Title != s.Title
		switch {
		case contentMoved && titleMoved:
			ch.Modified = append(ch.Modified, SourceChange{URL: key, Type: ChangeBoth, Previous: old, Current: s})
		case contentMoved:
			ch.Modified = append(ch.Modified, SourceChange{URL: key, Type: ChangeContent, Previous: old, Current: s})
		case titleMoved:
			ch.Modified = append(ch.Modified, SourceChange{URL: key, Type: ChangeTitle, Previous: old, Current: s})
		default:
			ch.Unchanged = append(ch.Unchanged, s)
		}
	}

	seen := make(map[string]bool, len(prev))
	for _, s := range prev {
		key := relevance.NormalizeURL(s.URL)
		if matched[key] || seen[key] {
			continue
		}
		seen[key] = true
		ch.Removed = append(ch.Removed, s)
	}
	return ch
}

var severityRank = map[string]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2}

func raise(cur, to string) string {
	if severityRank[to] > severityRank[cur] {
		return to
	}
	return cur
}

// Summarize counts the changes and grades their severity. Severity only
// ever moves up.
func Summarize(ch Changes) ChangeSummary {
	added, removed, modified := len(ch.Added), len(ch.Removed), len(ch.Modified)
	sum := ChangeSummary{TotalChanges: ch.Total(), Severity: SeverityLow}

	if added > 0 {
		sum.Highlights = append(sum.Highlights, fmt.Sprintf("%d new sources discovered", added))
		sum.Severity = raise(sum.Severity, SeverityMedium)
	}
	if removed > 0 {
		sum.Highlights = append(sum.Highlights, fmt.Sprintf("%d sources no longer available", removed))
		sum.Severity = raise(sum.Severity, SeverityMedium)
	}
	if modified > 0 {
		sum.Highlights = append(sum.Highlights, fmt.Sprintf("%d sources updated", modified))
		if modified > 5 {
			sum.Severity = raise(sum.Severity, SeverityHigh)
		} else {
			sum.Severity = raise(sum.Severity, SeverityMedium)
		}
	}

	switch {
	case sum.TotalChanges > 10:
		sum.Severity = raise(sum.Severity, SeverityHigh)
	case sum.TotalChanges > 3:
		sum.Severity = raise(sum.Severity, SeverityMedium)
	}
	return sum
}

// CheckAlerts turns a change set into alerts for the webhook channels.
func CheckAlerts(ch Changes) []Alert {
	var alerts []Alert
	now := nowUTC()

	if n := len(ch.Added); n > 0 {
		sev := SeverityMedium
		if n > 3 {
			sev = SeverityHigh
		}
		alerts = append(alerts, Alert{
			Type:      AlertNewCompetitor,
			Severity:  sev,
			Message:   fmt.Sprintf("%d new competitor sources detected", n),
			Details:   map[string]any{"added": n, "domains": domains(ch.Added)},
			Timestamp: now,
		})
	}
	if n := len(ch.Removed); n > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertCompetitorRemoved,
			Severity:  SeverityMedium,
			Message:   fmt.Sprintf("%d competitor sources no longer available", n),
			Details:   map[string]any{"removed": n, "domains": domains(ch.Removed)},
			Timestamp: now,
		})
	}
	if n := len(ch.Modified); n > 5 {
		alerts = append(alerts, Alert{
			Type:      AlertMajorUpdate,
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("%d competitor sources updated", n),
			Details:   map[string]any{"modified": n},
			Timestamp: now,
		})
	}
	return alerts
}

func domains(sources []model.Source) []string {
	set := make(map[string]bool)
	for _, s := range sources {
		if s.Domain != "" {
			set[s.Domain] = true
		}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
