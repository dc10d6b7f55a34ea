// Package synth turns a run's extracted entities into confidence-scored
// findings. Synthesis is deterministic: the same input always produces the
// same findings in the same order.
package synth

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sells-group/intel-cli/internal/extract"
	"github.com/sells-group/intel-cli/internal/model"
)

const (
	maxCommon          = 10
	maxDifferentiators = 10
	maxCitations       = 3

	minCapsForGaps            = 3
	minCapsForDifferentiators = 5
	ecosystemThreshold        = 20
	crowdedThreshold          = 10
	pricingSpreadThreshold    = 3.0
)

// Input is the run-wide material synthesis works from.
type Input struct {
	RunID        string
	Capabilities []model.Capability
	Sources      []model.Source
	Keywords     []string
	Pricing      []model.PricingPoint
	Integrations []model.Integration
	Compliance   []model.ComplianceItem
	Competitors  []model.Competitor
}

// Group is the set of capabilities sharing a category and normalized name.
type Group struct {
	Category   string
	Normalized string
	Items      []model.Capability
}

// Count is the number of capabilities in the group.
func (g Group) Count() int { return len(g.Items) }

// Groups buckets capabilities by category and lowercased normalized name,
// ordered by size. Equal sizes keep first-seen order.
func Groups(caps []model.Capability) []Group {
	idx := make(map[string]int)
	var groups []Group
	for _, c := range caps {
		key := c.Category + "|" + strings.ToLower(c.Normalized)
		i, ok := idx[key]
		if !ok {
			i = len(groups)
			idx[key] = i
			groups = append(groups, Group{Category: c.Category, Normalized: strings.ToLower(c.Normalized)})
		}
		groups[i].Items = append(groups[i].Items, c)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].Count() > groups[b].Count()
	})
	return groups
}

// Synthesize produces COMMON_FEATURE, GAP, DIFFERENTIATOR and INSIGHT
// findings, in that order.
func Synthesize(in Input) []model.Finding {
	groups := Groups(in.Capabilities)

	var out []model.Finding
	out = append(out, commonFeatures(in.RunID, groups)...)
	out = append(out, gaps(in)...)
	out = append(out, differentiators(in.RunID, groups, len(in.Capabilities))...)
	out = append(out, insights(in)...)
	return out
}

func commonFeatures(runID string, groups []Group) []model.Finding {
	var out []model.Finding
	for _, g := range groups {
		if len(out) == maxCommon || g.Count() < 2 {
			break
		}
		n := g.Count()
		out = append(out, model.Finding{
			RunID:      runID,
			Kind:       model.FindingCommonFeature,
			Text:       fmt.Sprintf("%s: %q appears across %d sources, indicating this is a market standard.", g.Category, g.Normalized, n),
			Confidence: round2(math.Min(0.9, 0.6+0.05*float64(n))),
			Citations:  citations(g.Items, maxCitations),
			Meta: model.FindingMeta{Feature: &model.FeatureMeta{
				Category:   g.Category,
				Normalized: g.Normalized,
				Count:      n,
			}},
		})
	}
	return out
}

func gaps(in Input) []model.Finding {
	if len(in.Capabilities) < minCapsForGaps {
		return nil
	}
	present := make([]string, len(in.Capabilities))
	for i, c := range in.Capabilities {
		present[i] = extract.Normalize(c.Normalized)
	}

	var out []model.Finding
	seen := make(map[string]struct{})
	for _, kw := range in.Keywords {
		word := extract.Normalize(kw)
		if word == "" {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		if offered(word, present) {
			continue
		}
		out = append(out, model.Finding{
			RunID:      in.RunID,
			Kind:       model.FindingGap,
			Text:       fmt.Sprintf("Potential gap: %q is not prominently offered by competitors.", strings.TrimSpace(kw)),
			Confidence: 0.65,
			Citations:  []string{},
			Meta:       model.FindingMeta{Gap: &model.GapMeta{Keyword: strings.TrimSpace(kw)}},
		})
	}
	return out
}

// offered reports whether word equals or is contained in a capability name.
func offered(word string, present []string) bool {
	for _, p := range present {
		if p == word || strings.Contains(p, word) {
			return true
		}
	}
	return false
}

func differentiators(runID string, groups []Group, total int) []model.Finding {
	if total < minCapsForDifferentiators {
		return nil
	}
	var out []model.Finding
	for _, g := range groups {
		if len(out) == maxDifferentiators {
			break
		}
		if g.Count() != 1 {
			continue
		}
		out = append(out, model.Finding{
			RunID:      runID,
			Kind:       model.FindingDifferentiator,
			Text:       fmt.Sprintf("%s: %q is offered by only one competitor, a potential differentiator.", g.Category, g.Normalized),
			Confidence: 0.6,
			Citations:  citations(g.Items, 1),
			Meta: model.FindingMeta{Feature: &model.FeatureMeta{
				Category:   g.Category,
				Normalized: g.Normalized,
				Count:      1,
			}},
		})
	}
	return out
}

func insights(in Input) []model.Finding {
	var out []model.Finding
	if f, ok := pricingInsight(in); ok {
		out = append(out, f)
	}
	if f, ok := ecosystemInsight(in); ok {
		out = append(out, f)
	}
	if f, ok := complianceInsight(in); ok {
		out = append(out, f)
	}
	if f, ok := marketInsight(in); ok {
		out = append(out, f)
	}
	return out
}

func pricingInsight(in Input) (model.Finding, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range in.Pricing {
		if p.Monthly == nil || *p.Monthly <= 0 {
			continue
		}
		lo = math.Min(lo, *p.Monthly)
		hi = math.Max(hi, *p.Monthly)
	}
	if math.IsInf(lo, 1) || hi/lo <= pricingSpreadThreshold {
		return model.Finding{}, false
	}
	ratio := round2(hi / lo)
	return model.Finding{
		RunID:      in.RunID,
		Kind:       model.FindingInsight,
		Text:       fmt.Sprintf("Pricing spread is wide: monthly plans range from $%.2f to $%.2f (%.1fx).", lo, hi, ratio),
		Confidence: 0.8,
		Citations:  []string{},
		Meta:       model.FindingMeta{Pricing: &model.PricingMeta{Min: lo, Max: hi, Ratio: ratio}},
	}, true
}

func ecosystemInsight(in Input) (model.Finding, bool) {
	vendors := make(map[string]struct{})
	for _, i := range in.Integrations {
		vendors[strings.ToLower(i.Vendor)] = struct{}{}
	}
	if len(vendors) <= ecosystemThreshold {
		return model.Finding{}, false
	}
	return model.Finding{
		RunID:      in.RunID,
		Kind:       model.FindingInsight,
		Text:       fmt.Sprintf("Integration ecosystem: %d distinct integrations found across competitors, indicating a mature integration market.", len(vendors)),
		Confidence: 0.75,
		Citations:  []string{},
		Meta:       model.FindingMeta{Ecosystem: &model.EcosystemMeta{Integrations: len(vendors)}},
	}, true
}

func complianceInsight(in Input) (model.Finding, bool) {
	if len(in.Compliance) == 0 {
		return model.Finding{}, false
	}
	set := make(map[string]struct{})
	for _, c := range in.Compliance {
		set[c.Framework] = struct{}{}
	}
	frameworks := make([]string, 0, len(set))
	for fw := range set {
		frameworks = append(frameworks, fw)
	}
	sort.Strings(frameworks)
	return model.Finding{
		RunID:      in.RunID,
		Kind:       model.FindingInsight,
		Text:       fmt.Sprintf("Compliance landscape: %d frameworks mentioned (%s).", len(frameworks), strings.Join(frameworks, ", ")),
		Confidence: 0.8,
		Citations:  []string{},
		Meta:       model.FindingMeta{Compliance: &model.ComplianceMeta{Frameworks: frameworks}},
	}, true
}

func marketInsight(in Input) (model.Finding, bool) {
	n := len(in.Competitors)
	if n == 0 {
		return model.Finding{}, false
	}
	density, phrase := "emerging", "suggesting an emerging market"
	if n > crowdedThreshold {
		density, phrase = "crowded", "indicating a crowded market"
	}
	return model.Finding{
		RunID:      in.RunID,
		Kind:       model.FindingInsight,
		Text:       fmt.Sprintf("Market landscape: %d competitors identified, %s.", n, phrase),
		Confidence: 0.7,
		Citations:  []string{},
		Meta:       model.FindingMeta{Market: &model.MarketMeta{Competitors: n, Density: density}},
	}, true
}

// citations returns up to limit distinct source ids in first-seen order.
func citations(caps []model.Capability, limit int) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, c := range caps {
		if c.SourceID == "" {
			continue
		}
		if _, ok := seen[c.SourceID]; ok {
			continue
		}
		seen[c.SourceID] = struct{}{}
		out = append(out, c.SourceID)
		if len(out) == limit {
			break
		}
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
