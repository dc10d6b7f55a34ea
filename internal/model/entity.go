package model

// Competitor is a brand identified from a source or supplied as a seed.
// Name is unique per run; the first writer wins.
type Competitor struct {
	ID      string `json:"id"`
	RunID   string `json:"run_id"`
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
}

// Capability is a category-tagged signal extracted from a source.
type Capability struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	SourceID   string `json:"source_id"`
	Category   string `json:"category"`
	Name       string `json:"name"`
	Normalized string `json:"normalized"`
}

// Feature is a capability with a best-effort description, kept once per
// normalized name per run.
type Feature struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	SourceID    string `json:"source_id"`
	Category    string `json:"category"`
	Name        string `json:"name"`
	Normalized  string `json:"normalized"`
	Description string `json:"description"`
}

// PricingPoint is one plan of a competitor.
type PricingPoint struct {
	ID           string   `json:"id"`
	RunID        string   `json:"run_id"`
	CompetitorID string   `json:"competitor_id"`
	SourceID     string   `json:"source_id,omitempty"`
	Plan         string   `json:"plan"`
	Monthly      *float64 `json:"monthly,omitempty"`
	Annual       *float64 `json:"annual,omitempty"`
	FeePct       *float64 `json:"fee_pct,omitempty"`
	Currency     string   `json:"currency"`
}

// ComplianceItem is a compliance framework claim found in source text.
type ComplianceItem struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Framework string `json:"framework"`
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
}

// Integration is a named third-party vendor found in source text.
type Integration struct {
	ID       string `json:"id"`
	RunID    string `json:"run_id"`
	Vendor   string `json:"vendor"`
	Category string `json:"category"`
	Notes    string `json:"notes,omitempty"`
}
