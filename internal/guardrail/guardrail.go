// Package guardrail runs advisory quality checks over a finished run.
// Issues are reported, never enforced: the evaluator does not change run
// status.
package guardrail

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
)

// AllPassed is the summary when no check raises an issue.
const AllPassed = "All checks passed"

const (
	minSources         = 5
	minCapabilities    = 10
	staleRatio         = 0.5
	fetchFailureRatio  = 0.3
	minPricingCites    = 2
	lowConfidenceBelow = 0.5
)

// Input is the material the checks run over.
type Input struct {
	Findings        []model.Finding
	Sources         []model.Source
	CapabilityCount int
	CompetitorCount int
	StalenessDays   int
}

// Result carries the issues found, in check order.
type Result struct {
	Summary string   `json:"summary"`
	Issues  []string `json:"issues"`
}

// Passed reports whether no issue was raised.
func (r Result) Passed() bool { return len(r.Issues) == 0 }

// Evaluate runs every check over in.
func Evaluate(in Input) Result {
	var issues []string

	uncited, pricingUnder, lowConf := 0, 0, 0
	for _, f := range in.Findings {
		if len(f.Citations) == 0 {
			uncited++
		}
		if f.PricingRelated() && len(f.Citations) < minPricingCites {
			pricingUnder++
		}
		if f.Confidence < lowConfidenceBelow {
			lowConf++
		}
	}
	if uncited > 0 {
		issues = append(issues, fmt.Sprintf("Findings without citations: %d", uncited))
	}

	total := len(in.Sources)
	if total < minSources {
		issues = append(issues, fmt.Sprintf("Low source count: Only %d sources found. Consider expanding search queries.", total))
	}
	if in.CapabilityCount < minCapabilities {
		issues = append(issues, fmt.Sprintf("Low capability count: Only %d capabilities extracted. May indicate limited source content.", in.CapabilityCount))
	}
	if in.CompetitorCount == 0 {
		issues = append(issues, "No competitors identified. Consider adding competitor names to project inputs.")
	}

	stale, failed := 0, 0
	for _, s := range in.Sources {
		if s.Stale() {
			stale++
		}
		if s.Status == model.SourceStatusError {
			failed++
		}
	}
	if total > 0 && float64(stale)/float64(total) > staleRatio {
		days := in.StalenessDays
		if days <= 0 {
			days = model.DefaultStalenessDays
		}
		issues = append(issues, fmt.Sprintf("Stale sources: %d/%d sources are older than %d days", stale, total, days))
	}
	if total > 0 && float64(failed)/float64(total) > fetchFailureRatio {
		issues = append(issues, fmt.Sprintf("High fetch failure rate: %d/%d sources failed to fetch", failed, total))
	}
	if pricingUnder > 0 {
		issues = append(issues, fmt.Sprintf("Pricing findings with fewer than 2 citations: %d", pricingUnder))
	}
	if lowConf > 0 {
		issues = append(issues, fmt.Sprintf("Low confidence findings: %d", lowConf))
	}

	if len(issues) == 0 {
		return Result{Summary: AllPassed, Issues: []string{}}
	}
	return Result{Summary: strings.Join(issues, "; "), Issues: issues}
}

// Reader is the slice of the store the evaluator needs.
type Reader interface {
	ListFindings(ctx context.Context, runID string, approvedOnly bool) ([]model.Finding, error)
	ListSources(ctx context.Context, runID string) ([]model.Source, error)
	ListCapabilities(ctx context.Context, runID string) ([]model.Capability, error)
	ListCompetitors(ctx context.Context, runID string) ([]model.Competitor, error)
}

// SettingsSource supplies the staleness threshold.
type SettingsSource interface {
	Get(ctx context.Context) (model.Settings, error)
}

// Evaluator loads a run from the store and evaluates it.
type Evaluator struct {
	store    Reader
	settings SettingsSource
}

// NewEvaluator creates an Evaluator. settings may be nil, in which case the
// default staleness threshold is reported.
func NewEvaluator(store Reader, settings SettingsSource) *Evaluator {
	return &Evaluator{store: store, settings: settings}
}

// EvaluateRun loads the run's findings, sources and entities and evaluates
// them.
func (e *Evaluator) EvaluateRun(ctx context.Context, runID string) (Result, error) {
	in, err := e.load(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	return Evaluate(in), nil
}

func (e *Evaluator) load(ctx context.Context, runID string) (Input, error) {
	findings, err := e.store.ListFindings(ctx, runID, false)
	if err != nil {
		return Input{}, eris.Wrap(err, "guardrail: list findings")
	}
	sources, err := e.store.ListSources(ctx, runID)
	if err != nil {
		return Input{}, eris.Wrap(err, "guardrail: list sources")
	}
	caps, err := e.store.ListCapabilities(ctx, runID)
	if err != nil {
		return Input{}, eris.Wrap(err, "guardrail: list capabilities")
	}
	comps, err := e.store.ListCompetitors(ctx, runID)
	if err != nil {
		return Input{}, eris.Wrap(err, "guardrail: list competitors")
	}

	days := model.DefaultStalenessDays
	if e.settings != nil {
		if s, err := e.settings.Get(ctx); err == nil {
			days = s.StalenessDays
		}
	}
	return Input{
		Findings:        findings,
		Sources:         sources,
		CapabilityCount: len(caps),
		CompetitorCount: len(comps),
		StalenessDays:   days,
	}, nil
}
