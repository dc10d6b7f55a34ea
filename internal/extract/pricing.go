package extract

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// PricingName is the registry name of the pricing extractor.
const PricingName = "pricing"

const pricingSniffRunes = 3000

var (
	pricingPageRe = regexp.MustCompile(`(?i)\b(pricing|plans?|fees?)\b`)
	moneyRe       = regexp.MustCompile(`(\$|€|£)?\s?(\d{1,4}(?:[.,]\d{2})?)`)
	perMonthRe    = regexp.MustCompile(`(?i)(\$|€|£)\s?(\d{1,4}(?:[.,]\d{2})?)\s*/\s*mo`)
	perYearRe     = regexp.MustCompile(`(?i)(\$|€|£)\s?(\d{1,5}(?:[.,]\d{2})?)\s*(?:/\s*(?:yr|year)\b|per\s*year)`)
	feeRe         = regexp.MustCompile(`(\d{1,2}(?:\.\d{1,2})?)\s?%`)
	noFeeRe       = regexp.MustCompile(`(?i)\b(no fees?|zero fees?)\b|(^|\s)0\s?% fee`)
	monthlyRe     = regexp.MustCompile(`(?i)/\s*mo|per\s*month|monthly`)
	annualRe      = regexp.MustCompile(`(?i)/\s*y(ear)?|per\s*year|ann(ual)?|billed annually`)
	headerRe      = regexp.MustCompile(`(?i)plan|price|monthly|annual|billed`)
	blockSplitRe  = regexp.MustCompile(`\n{2,}`)
	planSuffixRe  = regexp.MustCompile(`[:\-\x{2013}|\s]+$`)
	planLineRe    = regexp.MustCompile(`([A-Z][A-Za-z0-9+ ]{2,40})\s+[-\x{2013}\x{2014}:]\s+([^.]{0,60})`)
)

// LooksLikePricingPage reports whether a page is worth a pricing pass.
func LooksLikePricingPage(title, text string) bool {
	return pricingPageRe.MatchString(title + " " + truncateRunes(text, pricingSniffRunes))
}

// PricingExtractor parses plan rows from pricing pages.
type PricingExtractor struct{}

// Name implements Extractor.
func (PricingExtractor) Name() string { return PricingName }

// Extract implements Extractor. Pages that do not look like pricing pages
// yield nothing.
func (PricingExtractor) Extract(doc Document) []Entity {
	if !LooksLikePricingPage(doc.Title, doc.Text) {
		return nil
	}
	rows := ParsePricing(doc.Text)
	out := make([]Entity, len(rows))
	for i := range rows {
		out[i] = Entity{Kind: KindPricing, Pricing: &rows[i]}
	}
	return out
}

// ParsePricing runs the block pass and the plan-line pass over text and
// returns the union, deduplicated by plan and amounts.
func ParsePricing(text string) []Pricing {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var rows []Pricing
	rows = append(rows, blockPass(text)...)
	rows = append(rows, planLinePass(text)...)

	seen := make(map[string]struct{}, len(rows))
	out := rows[:0]
	for _, r := range rows {
		k := pricingKey(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// blockPass reads blank-line separated blocks whose first two lines look
// like a price table header.
func blockPass(text string) []Pricing {
	var rows []Pricing
	for _, block := range blockSplitRe.Split(text, -1) {
		lines := nonEmptyLines(block)
		if len(lines) < 2 || !headerRe.MatchString(lines[0]+" "+lines[1]) {
			continue
		}
		for _, l := range lines {
			row, ok := parsePriceSegment(l)
			if !ok {
				continue
			}
			row.Plan = planName(l)
			rows = append(rows, row)
		}
	}
	return rows
}

// planLinePass scans "Plan - $X/mo" style lines anywhere in the text.
func planLinePass(text string) []Pricing {
	var rows []Pricing
	for _, l := range nonEmptyLines(text) {
		for _, m := range planLineRe.FindAllStringSubmatch(l, -1) {
			row, ok := parsePriceSegment(m[2])
			if !ok {
				continue
			}
			row.Plan = strings.TrimSpace(m[1])
			rows = append(rows, row)
		}
	}
	return rows
}

// parsePriceSegment reads the first amount in s and classifies it by the
// cadence hints around it. A segment quoting both a per-month and a
// per-year figure keeps both.
func parsePriceSegment(s string) (Pricing, bool) {
	currency, amount, ok := parseMoney(s)
	if !ok {
		return Pricing{}, false
	}
	row := Pricing{Currency: currency}

	isMonthly := monthlyRe.MatchString(s)
	isAnnual := annualRe.MatchString(s)
	switch {
	case isAnnual:
		mo, hasMonthly := perMonthFigure(s)
		if hasMonthly {
			row.Monthly = &mo
		}
		if yr, ok := perYearFigure(s); ok {
			row.Annual = &yr
		} else if !hasMonthly || amount != mo {
			row.Annual = ptr(amount)
		}
	case isMonthly:
		row.Monthly = ptr(amount)
	}
	if row.Annual != nil && row.Monthly == nil {
		row.Monthly = ptr(round2(*row.Annual / 12))
	}

	if noFeeRe.MatchString(s) {
		row.FeePct = ptr(0)
	} else if m := feeRe.FindStringSubmatch(s); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			row.FeePct = &f
		}
	}
	return row, true
}

func parseMoney(s string) (string, float64, bool) {
	m := moneyRe.FindStringSubmatch(s)
	if m == nil {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m[2], ",", ".", 1), 64)
	if err != nil {
		return "", 0, false
	}
	currency := m[1]
	if currency == "" {
		currency = "$"
	}
	return currency, v, true
}

func perMonthFigure(s string) (float64, bool) {
	return cadenceFigure(perMonthRe, s)
}

func perYearFigure(s string) (float64, bool) {
	return cadenceFigure(perYearRe, s)
}

func cadenceFigure(re *regexp.Regexp, s string) (float64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m[2], ",", ".", 1), 64)
	return v, err == nil
}

// planName is the line up to the first currency symbol, without trailing
// separators.
func planName(line string) string {
	if i := strings.IndexAny(line, "$€£"); i >= 0 {
		line = line[:i]
	}
	name := strings.TrimSpace(planSuffixRe.ReplaceAllString(line, ""))
	if name == "" {
		return "Plan"
	}
	return name
}

func pricingKey(r Pricing) string {
	return strings.ToLower(r.Plan) + "|" + fmtAmount(r.Monthly) + "|" + fmtAmount(r.Annual) + "|" + fmtAmount(r.FeePct)
}

func fmtAmount(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *f)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func ptr(f float64) *float64 { return &f }
