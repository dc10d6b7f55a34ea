package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/vertical"
)

func f64(v float64) *float64 { return &v }

func sampleData() Data {
	return Data{
		Headline: "Acme Billing Competitive Report",
		Project: &model.Project{
			Name:     "Acme Billing",
			Category: "Billing",
			Industry: "Fintech",
			Segments: []string{"SMB"},
			Regions:  []string{"US", "EU"},
		},
		Profile: vertical.Get(vertical.DevTools),
		Competitors: []model.Competitor{
			{ID: "c1", Name: "Stripe", Website: "https://stripe.com"},
			{ID: "c2", Name: "Chargebee", Website: "https://www.chargebee.com"},
		},
		Capabilities: []model.Capability{
			{SourceID: "s1", Category: "API", Normalized: "webhooks"},
			{SourceID: "s2", Category: "API", Normalized: "webhooks"},
			{SourceID: "s1", Category: "Performance", Normalized: "sla"},
			{SourceID: "s2", Category: "API", Normalized: "openapi"},
		},
		Pricing: []model.PricingPoint{
			{CompetitorID: "c1", Plan: "Starter", Monthly: f64(10), Currency: "$"},
			{CompetitorID: "c2", Plan: "Pro", Monthly: f64(50), Annual: f64(600), FeePct: f64(0.5), Currency: "$"},
			{CompetitorID: "c2", Plan: "Scale", Monthly: f64(30), Currency: "$"},
		},
		Integrations: []model.Integration{
			{Vendor: "Salesforce", Category: "CRM"},
			{Vendor: "HubSpot", Category: "CRM"},
			{Vendor: "Slack", Category: "Productivity"},
			{Vendor: "salesforce", Category: "CRM"},
		},
		Compliance: []model.ComplianceItem{{Framework: "SOC 2"}},
		Findings: []model.Finding{
			{Kind: model.FindingCommonFeature, Text: `API: "webhooks" appears across 2 sources, indicating this is a market standard.`, Confidence: 0.7, Citations: []string{"s1", "s2"}},
			{Kind: model.FindingGap, Text: `Potential gap: "invoicing" is not prominently offered by competitors.`, Confidence: 0.65},
		},
		Sources: []model.Source{
			{ID: "s1", URL: "https://stripe.com/pricing", Title: "Stripe Pricing", Domain: "stripe.com", Status: model.SourceStatusOK},
			{ID: "s2", URL: "https://www.chargebee.com/", Domain: "chargebee.com", Status: model.SourceStatusOK, Notes: "Stale source: published 2020-01-01T00:00:00Z"},
			{ID: "s3", URL: "https://down.example.com", Domain: "down.example.com", Status: model.SourceStatusError},
		},
	}
}

func TestMarkdown_Sections(t *testing.T) {
	md := Markdown(sampleData())

	assert.True(t, strings.HasPrefix(md, "# Acme Billing Competitive Report\n"))
	for _, s := range vertical.Get(vertical.DevTools).EnabledSections() {
		assert.Contains(t, md, "## "+s.Title)
	}
	assert.Contains(t, md, "## Appendix: Findings")
	assert.Contains(t, md, "## Sources")

	assert.Contains(t, md, "[c:s1][c:s2]")
	assert.Contains(t, md, "| Stripe | https://stripe.com |")
	assert.Contains(t, md, "| API | webhooks | 2 |")
	assert.Contains(t, md, "- OpenAPI: ✅ Found")
	assert.Contains(t, md, "- CLI: ⚠️ Not prominently featured")
	assert.Contains(t, md, "min $10.00, median $30.00, max $50.00")
	assert.Contains(t, md, "| Chargebee | Pro | $50.00 | $600.00 | 0.5% |")
	assert.Contains(t, md, "- **Segments**: SMB")
	assert.Contains(t, md, "- **Regions**: US, EU")
	assert.Contains(t, md, "1. Potential gap:")
	assert.Contains(t, md, "(stale)")
	assert.Contains(t, md, "(fetch failed)")
	assert.Equal(t, 1, strings.Count(md, "- Salesforce\n"))
}

func TestMarkdown_SectionOrderFollowsProfile(t *testing.T) {
	md := Markdown(sampleData())
	last := -1
	for _, s := range vertical.Get(vertical.DevTools).EnabledSections() {
		i := strings.Index(md, "## "+s.Title)
		require.Greater(t, i, last, s.Title)
		last = i
	}
}

func TestMarkdown_RequiredComplianceMissing(t *testing.T) {
	d := sampleData()
	d.Profile = vertical.Get(vertical.Fintech)
	md := Markdown(d)
	assert.Contains(t, md, "Required for this vertical but not found: PCI-DSS, GDPR")
}

func TestMarkdown_Empty(t *testing.T) {
	md := Markdown(Data{Headline: "Empty", Profile: vertical.Get(vertical.B2BSaaS)})
	assert.Contains(t, md, "_No competitors identified in this analysis._")
	assert.Contains(t, md, "_No pricing information found in the analyzed sources._")
	assert.Contains(t, md, "_No findings were synthesized for this run._")
	assert.True(t, strings.HasSuffix(md, "_None._\n"))
}

func TestCite(t *testing.T) {
	assert.Equal(t, "x[c:a][c:b]", Cite("x", []string{"a", "b"}))
	assert.Equal(t, "x", Cite("x", nil))
}

func TestMonthlyStats(t *testing.T) {
	_, _, _, ok := MonthlyStats(nil)
	assert.False(t, ok)

	lo, med, hi, ok := MonthlyStats([]model.PricingPoint{{Monthly: f64(40)}, {Monthly: f64(10)}, {Monthly: f64(0)}, {Monthly: f64(20)}, {Monthly: f64(30)}})
	require.True(t, ok)
	assert.InDelta(t, 10.0, lo, 1e-9)
	assert.InDelta(t, 25.0, med, 1e-9)
	assert.InDelta(t, 40.0, hi, 1e-9)
}

func TestBuildMatrix(t *testing.T) {
	m := BuildMatrix(sampleData())
	assert.Equal(t, []string{"Stripe", "Chargebee"}, m.Competitors)
	require.Len(t, m.Rows, 3)
	assert.Equal(t, "webhooks", m.Rows[0].Capability)
	assert.Equal(t, []bool{true, true}, m.Rows[0].Has)
	assert.Equal(t, "sla", m.Rows[1].Capability)
	assert.Equal(t, []bool{true, false}, m.Rows[1].Has)
	assert.Equal(t, []bool{false, true}, m.Rows[2].Has)
}

func TestWriteCapabilityMatrix(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCapabilityMatrix(&buf, sampleData()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)

	caps := f.Sheet["Capabilities"]
	require.NotNil(t, caps)
	assert.Equal(t, "Capability", caps.Rows[0].Cells[1].String())
	assert.Equal(t, "Chargebee", caps.Rows[0].Cells[4].String())
	assert.Equal(t, "webhooks", caps.Rows[1].Cells[1].String())
	assert.Equal(t, "✓", caps.Rows[1].Cells[3].String())

	pricing := f.Sheet["Pricing"]
	require.NotNil(t, pricing)
	assert.Len(t, pricing.Rows, 4)
	assert.Equal(t, "Stripe", pricing.Rows[1].Cells[0].String())

	assert.NotNil(t, f.Sheet["Findings"])
}
