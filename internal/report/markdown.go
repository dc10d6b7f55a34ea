// Package report renders a run's entities and findings into a markdown
// report and an XLSX capability matrix.
package report

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/synth"
	"github.com/sells-group/intel-cli/internal/vertical"
)

const (
	maxMatrixGroups   = 25
	maxListedPerGroup = 20
	maxSummaryItems   = 5
)

// Data is everything a report is rendered from.
type Data struct {
	Headline     string
	Project      *model.Project
	Profile      vertical.Profile
	Competitors  []model.Competitor
	Capabilities []model.Capability
	Pricing      []model.PricingPoint
	Integrations []model.Integration
	Compliance   []model.ComplianceItem
	Findings     []model.Finding
	Sources      []model.Source
}

type sectionWriter func(b *strings.Builder, d Data)

var sectionWriters = map[string]sectionWriter{
	"exec":         writeExec,
	"market":       writeMarket,
	"competitors":  writeCompetitors,
	"capabilities": writeCapabilities,
	"pricing":      writePricing,
	"integrations": writeIntegrations,
	"security":     writeSecurity,
	"deployment":   writeDeployment,
	"gtm":          writeGTM,
	"roadmap":      writeRoadmap,
}

// Markdown renders the report. Sections follow the profile's order; the
// findings appendix and source list are always present.
func Markdown(d Data) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", d.Headline)
	if d.Profile.Label != "" {
		fmt.Fprintf(&b, "_Vertical: %s_\n\n", d.Profile.Label)
	}

	for _, s := range d.Profile.EnabledSections() {
		w, ok := sectionWriters[s.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
		w(&b, d)
	}

	writeFindings(&b, d)
	writeSources(&b, d)
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// Cite appends [c:id] tokens for each citation.
func Cite(text string, citations []string) string {
	var b strings.Builder
	b.WriteString(text)
	for _, id := range citations {
		fmt.Fprintf(&b, "[c:%s]", id)
	}
	return b.String()
}

func findingsOf(fs []model.Finding, kind model.FindingKind) []model.Finding {
	var out []model.Finding
	for _, f := range fs {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func writeExec(b *strings.Builder, d Data) {
	fmt.Fprintf(b, "This analysis identified **%d competitors**, **%d capabilities** and **%d pricing plans** across **%d sources**.\n\n",
		len(d.Competitors), len(d.Capabilities), len(d.Pricing), len(d.Sources))

	top := append([]model.Finding(nil), d.Findings...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].Confidence > top[j].Confidence })
	if len(top) == 0 {
		b.WriteString("_No findings were synthesized for this run._\n\n")
		return
	}
	b.WriteString("### Top Findings\n\n")
	for _, f := range top[:min(len(top), maxSummaryItems)] {
		fmt.Fprintf(b, "- **%s** (%.0f%%) %s\n", f.Kind, f.Confidence*100, Cite(f.Text, f.Citations))
	}
	b.WriteString("\n")
}

func writeMarket(b *strings.Builder, d Data) {
	if d.Project != nil {
		if d.Project.Category != "" {
			fmt.Fprintf(b, "- **Category**: %s\n", d.Project.Category)
		}
		if d.Project.Industry != "" {
			fmt.Fprintf(b, "- **Industry**: %s\n", strings.TrimSpace(d.Project.Industry+" "+d.Project.SubIndustry))
		}
	}
	fmt.Fprintf(b, "- **Competitors identified**: %d\n\n", len(d.Competitors))
	if len(d.Competitors) == 0 {
		return
	}
	b.WriteString("| Competitor | Website |\n|---|---|\n")
	for _, c := range d.Competitors {
		site := c.Website
		if site == "" {
			site = "-"
		}
		fmt.Fprintf(b, "| %s | %s |\n", escapeCell(c.Name), site)
	}
	b.WriteString("\n")
}

func writeCompetitors(b *strings.Builder, d Data) {
	if len(d.Competitors) == 0 {
		b.WriteString("_No competitors identified in this analysis._\n\n")
		return
	}
	plans := make(map[string]int)
	for _, p := range d.Pricing {
		plans[p.CompetitorID]++
	}
	for _, c := range d.Competitors {
		var traits []string
		if n := plans[c.ID]; n > 0 {
			traits = append(traits, fmt.Sprintf("%d pricing plans", n))
		}
		if host := hostOf(c.Website); host != "" {
			traits = append(traits, host)
		}
		if len(traits) == 0 {
			traits = append(traits, "under analysis")
		}
		fmt.Fprintf(b, "- **%s**: %s\n", c.Name, strings.Join(traits, ", "))
	}
	b.WriteString("\n")
}

func writeCapabilities(b *strings.Builder, d Data) {
	if len(d.Capabilities) == 0 {
		b.WriteString("_No capabilities identified in this analysis._\n\n")
		return
	}
	groups := synth.Groups(d.Capabilities)
	fmt.Fprintf(b, "Found **%d capabilities** in **%d groups**.\n\n", len(d.Capabilities), len(groups))
	b.WriteString("| Category | Capability | Sources |\n|---|---|---|\n")
	for _, g := range groups[:min(len(groups), maxMatrixGroups)] {
		fmt.Fprintf(b, "| %s | %s | %d |\n", g.Category, escapeCell(g.Normalized), g.Count())
	}
	b.WriteString("\n")

	if len(d.Profile.Emphasize.MustHave) > 0 {
		b.WriteString("### Critical Capabilities for This Vertical\n\n")
		for _, m := range d.Profile.Emphasize.MustHave {
			mark := "⚠️ Not prominently featured"
			if hasCapability(d.Capabilities, m) {
				mark = "✅ Found"
			}
			fmt.Fprintf(b, "- %s: %s\n", m, mark)
		}
		b.WriteString("\n")
	}
}

func hasCapability(caps []model.Capability, want string) bool {
	w := strings.ToLower(want)
	for _, c := range caps {
		if strings.Contains(strings.ToLower(c.Normalized), w) || strings.Contains(strings.ToLower(c.Category), w) {
			return true
		}
	}
	return false
}

func writePricing(b *strings.Builder, d Data) {
	if len(d.Pricing) == 0 {
		b.WriteString("_No pricing information found in the analyzed sources._\n\n")
		return
	}
	names := competitorNames(d.Competitors)
	b.WriteString("| Competitor | Plan | Monthly | Annual | Fee |\n|---|---|---|---|---|\n")
	for _, p := range d.Pricing {
		fmt.Fprintf(b, "| %s | %s | %s | %s | %s |\n",
			escapeCell(names[p.CompetitorID]), escapeCell(p.Plan),
			money(p.Currency, p.Monthly), money(p.Currency, p.Annual), pct(p.FeePct))
	}
	b.WriteString("\n")

	if lo, med, hi, ok := MonthlyStats(d.Pricing); ok {
		fmt.Fprintf(b, "- **Monthly price**: min $%.2f, median $%.2f, max $%.2f\n\n", lo, med, hi)
	}
}

// MonthlyStats returns min, median and max of the positive monthly prices.
func MonthlyStats(points []model.PricingPoint) (lo, med, hi float64, ok bool) {
	var v []float64
	for _, p := range points {
		if p.Monthly != nil && *p.Monthly > 0 {
			v = append(v, *p.Monthly)
		}
	}
	if len(v) == 0 {
		return 0, 0, 0, false
	}
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		med = v[n/2]
	} else {
		med = (v[n/2-1] + v[n/2]) / 2
	}
	return v[0], med, v[n-1], true
}

func writeIntegrations(b *strings.Builder, d Data) {
	if len(d.Integrations) == 0 {
		b.WriteString("_No integrations detected in the analyzed sources._\n\n")
		return
	}
	byCat := make(map[string][]string)
	seen := make(map[string]struct{})
	var cats []string
	for _, i := range d.Integrations {
		key := i.Category + "|" + strings.ToLower(i.Vendor)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := byCat[i.Category]; !ok {
			cats = append(cats, i.Category)
		}
		byCat[i.Category] = append(byCat[i.Category], i.Vendor)
	}
	sort.SliceStable(cats, func(a, c int) bool { return len(byCat[cats[a]]) > len(byCat[cats[c]]) })

	for _, c := range cats {
		vendors := byCat[c]
		fmt.Fprintf(b, "### %s\n\n", c)
		for _, v := range vendors[:min(len(vendors), maxListedPerGroup)] {
			fmt.Fprintf(b, "- %s\n", v)
		}
		if extra := len(vendors) - maxListedPerGroup; extra > 0 {
			fmt.Fprintf(b, "_... and %d more_\n", extra)
		}
		b.WriteString("\n")
	}
}

func writeSecurity(b *strings.Builder, d Data) {
	found := Frameworks(d.Compliance)
	if len(found) == 0 {
		b.WriteString("_No compliance frameworks detected in the analyzed sources._\n\n")
	} else {
		fmt.Fprintf(b, "Frameworks mentioned: %s\n\n", strings.Join(found, ", "))
	}

	required := d.Profile.Emphasize.Compliance
	if len(required) == 0 {
		return
	}
	var missing []string
	for _, r := range required {
		if !hasFramework(d.Compliance, r) {
			missing = append(missing, r)
		}
	}
	if len(missing) == 0 {
		b.WriteString("All frameworks required for this vertical are mentioned.\n\n")
		return
	}
	fmt.Fprintf(b, "Required for this vertical but not found: %s\n\n", strings.Join(missing, ", "))
}

// Frameworks returns the distinct frameworks, sorted.
func Frameworks(items []model.ComplianceItem) []string {
	set := make(map[string]struct{})
	for _, c := range items {
		set[c.Framework] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for fw := range set {
		out = append(out, fw)
	}
	sort.Strings(out)
	return out
}

// hasFramework matches loosely so "PCI-DSS" is satisfied by "PCI DSS".
func hasFramework(items []model.ComplianceItem, want string) bool {
	w := squash(want)
	for _, c := range items {
		if strings.Contains(squash(c.Framework), w) {
			return true
		}
	}
	return false
}

func squash(s string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.ToLower(s))
}

func writeDeployment(b *strings.Builder, d Data) {
	seen := make(map[string]struct{})
	var perf []string
	for _, c := range d.Capabilities {
		if c.Category != "Performance" {
			continue
		}
		if _, ok := seen[c.Normalized]; ok {
			continue
		}
		seen[c.Normalized] = struct{}{}
		perf = append(perf, c.Normalized)
	}
	if len(perf) == 0 {
		b.WriteString("_Performance metrics and SLAs not explicitly mentioned in sources._\n\n")
		return
	}
	for _, p := range perf {
		fmt.Fprintf(b, "- %s\n", p)
	}
	b.WriteString("\n")
}

func writeGTM(b *strings.Builder, d Data) {
	if d.Project == nil || (len(d.Project.Segments) == 0 && len(d.Project.Regions) == 0) {
		b.WriteString("_No target segments or regions provided._\n\n")
		return
	}
	if len(d.Project.Segments) > 0 {
		fmt.Fprintf(b, "- **Segments**: %s\n", strings.Join(d.Project.Segments, ", "))
	}
	if len(d.Project.Regions) > 0 {
		fmt.Fprintf(b, "- **Regions**: %s\n", strings.Join(d.Project.Regions, ", "))
	}
	b.WriteString("\n")
}

func writeRoadmap(b *strings.Builder, d Data) {
	gaps := findingsOf(d.Findings, model.FindingGap)
	diffs := findingsOf(d.Findings, model.FindingDifferentiator)
	if len(gaps) == 0 && len(diffs) == 0 {
		b.WriteString("_No gaps or differentiators surfaced in this run._\n\n")
		return
	}
	if len(gaps) > 0 {
		b.WriteString("### Address Market Gaps\n\n")
		for i, f := range gaps[:min(len(gaps), maxSummaryItems)] {
			fmt.Fprintf(b, "%d. %s\n", i+1, f.Text)
		}
		b.WriteString("\n")
	}
	if len(diffs) > 0 {
		b.WriteString("### Leverage Differentiators\n\n")
		for _, f := range diffs[:min(len(diffs), maxSummaryItems)] {
			fmt.Fprintf(b, "- %s\n", Cite(f.Text, f.Citations))
		}
		b.WriteString("\n")
	}
}

func writeFindings(b *strings.Builder, d Data) {
	b.WriteString("## Appendix: Findings\n\n")
	if len(d.Findings) == 0 {
		b.WriteString("_None._\n\n")
		return
	}
	for _, f := range d.Findings {
		fmt.Fprintf(b, "- [%s %.2f] %s\n", f.Kind, f.Confidence, Cite(f.Text, f.Citations))
	}
	b.WriteString("\n")
}

func writeSources(b *strings.Builder, d Data) {
	b.WriteString("## Sources\n\n")
	if len(d.Sources) == 0 {
		b.WriteString("_None._\n")
		return
	}
	for _, s := range d.Sources {
		title := s.Title
		if title == "" {
			title = s.URL
		}
		line := fmt.Sprintf("- [c:%s] [%s](%s)", s.ID, title, s.URL)
		if s.Status == model.SourceStatusError {
			line += " (fetch failed)"
		} else if s.Stale() {
			line += " (stale)"
		}
		b.WriteString(line + "\n")
	}
}

func competitorNames(cs []model.Competitor) map[string]string {
	m := make(map[string]string, len(cs))
	for _, c := range cs {
		m[c.ID] = c.Name
	}
	return m
}

func money(currency string, v *float64) string {
	if v == nil {
		return "-"
	}
	if currency == "" {
		currency = "$"
	}
	return fmt.Sprintf("%s%.2f", currency, *v)
}

func pct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%g%%", *v)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
