package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// FindingKind classifies a synthesized claim.
type FindingKind string

const (
	FindingCommonFeature  FindingKind = "COMMON_FEATURE"
	FindingGap            FindingKind = "GAP"
	FindingDifferentiator FindingKind = "DIFFERENTIATOR"
	FindingRisk           FindingKind = "RISK"
	FindingInsight        FindingKind = "INSIGHT"
	FindingRecommendation FindingKind = "RECOMMENDATION"
)

// Finding is a confidence-scored claim with zero or more source citations.
type Finding struct {
	ID            string      `json:"id"`
	RunID         string      `json:"run_id"`
	Kind          FindingKind `json:"kind"`
	Text          string      `json:"text"`
	Confidence    float64     `json:"confidence"`
	Citations     []string    `json:"citations"`
	Approved      bool        `json:"approved"`
	ReviewerNotes string      `json:"reviewer_notes,omitempty"`
	Meta          FindingMeta `json:"meta"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NeedsCitation reports whether the finding makes a claim about source
// content and therefore should cite at least one source.
func (f Finding) NeedsCitation() bool {
	return f.Kind == FindingCommonFeature || f.Kind == FindingDifferentiator
}

// PricingRelated reports whether the finding is about pricing.
func (f Finding) PricingRelated() bool {
	return f.Meta.Pricing != nil
}

// FindingMeta is the structured payload of a finding. At most one variant is
// set and it must agree with the finding kind.
type FindingMeta struct {
	Feature    *FeatureMeta    `json:"feature,omitempty"`
	Gap        *GapMeta        `json:"gap,omitempty"`
	Pricing    *PricingMeta    `json:"pricing,omitempty"`
	Ecosystem  *EcosystemMeta  `json:"ecosystem,omitempty"`
	Compliance *ComplianceMeta `json:"compliance,omitempty"`
	Market     *MarketMeta     `json:"market,omitempty"`
	Change     *ChangeMeta     `json:"change,omitempty"`
}

// FeatureMeta backs COMMON_FEATURE and DIFFERENTIATOR findings.
type FeatureMeta struct {
	Category   string `json:"category"`
	Normalized string `json:"normalized"`
	Count      int    `json:"count"`
}

// GapMeta backs GAP findings.
type GapMeta struct {
	Keyword string `json:"keyword"`
}

// PricingMeta backs the pricing spread insight.
type PricingMeta struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Ratio float64 `json:"ratio"`
}

// EcosystemMeta backs the integration ecosystem insight.
type EcosystemMeta struct {
	Integrations int `json:"integrations"`
}

// ComplianceMeta backs the compliance landscape insight.
type ComplianceMeta struct {
	Frameworks []string `json:"frameworks"`
}

// MarketMeta backs the market density insight.
type MarketMeta struct {
	Competitors int    `json:"competitors"`
	Density     string `json:"density"`
}

// ChangeMeta backs change-detection RISK findings.
type ChangeMeta struct {
	PrevRunID    string   `json:"prev_run_id"`
	CurRunID     string   `json:"cur_run_id"`
	Severity     string   `json:"severity"`
	TotalChanges int      `json:"total_changes"`
	Added        int      `json:"added"`
	Removed      int      `json:"removed"`
	Modified     int      `json:"modified"`
	Highlights   []string `json:"highlights"`
}

// variant returns the name of the single set variant, "" when none is set,
// or an error when more than one is set.
func (m FindingMeta) variant() (string, error) {
	var set []string
	if m.Feature != nil {
		set = append(set, "feature")
	}
	if m.Gap != nil {
		set = append(set, "gap")
	}
	if m.Pricing != nil {
		set = append(set, "pricing")
	}
	if m.Ecosystem != nil {
		set = append(set, "ecosystem")
	}
	if m.Compliance != nil {
		set = append(set, "compliance")
	}
	if m.Market != nil {
		set = append(set, "market")
	}
	if m.Change != nil {
		set = append(set, "change")
	}
	switch len(set) {
	case 0:
		return "", nil
	case 1:
		return set[0], nil
	default:
		return "", eris.Errorf("model: finding meta has %d variants %v", len(set), set)
	}
}

// allowedMeta lists the metadata variants each kind may carry.
var allowedMeta = map[FindingKind][]string{
	FindingCommonFeature:  {"feature"},
	FindingDifferentiator: {"feature"},
	FindingGap:            {"gap"},
	FindingInsight:        {"pricing", "ecosystem", "compliance", "market"},
	FindingRisk:           {"change"},
	FindingRecommendation: {},
}

// Validate checks that the metadata variant agrees with kind. Findings with
// no metadata are accepted for every kind.
func (m FindingMeta) Validate(kind FindingKind) error {
	allowed, ok := allowedMeta[kind]
	if !ok {
		return eris.Errorf("model: unknown finding kind %q", kind)
	}
	v, err := m.variant()
	if err != nil {
		return err
	}
	if v == "" {
		return nil
	}
	for _, a := range allowed {
		if a == v {
			return nil
		}
	}
	return eris.Errorf("model: %s finding cannot carry %s meta", kind, v)
}

// EncodeMeta serializes metadata for storage after validating it.
func EncodeMeta(kind FindingKind, m FindingMeta) ([]byte, error) {
	if err := m.Validate(kind); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal finding meta")
	}
	return data, nil
}

// DecodeMeta parses stored metadata and validates it against kind.
func DecodeMeta(kind FindingKind, data []byte) (FindingMeta, error) {
	var m FindingMeta
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, eris.Wrap(err, "model: unmarshal finding meta")
	}
	if err := m.Validate(kind); err != nil {
		return FindingMeta{}, err
	}
	return m, nil
}
