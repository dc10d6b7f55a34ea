package extract

import (
	"regexp"
	"strings"
)

// ComplianceStatusClaims marks a framework the vendor claims on its pages.
const ComplianceStatusClaims = "Claims"

var complianceRe = regexp.MustCompile(`(?i)\b(SOC\s*2|HIPAA|GDPR|PCI[-\s]?DSS|ISO\s*27001|BAA)\b`)

// ComplianceExtractor finds compliance framework claims.
type ComplianceExtractor struct{}

// Name implements Extractor.
func (ComplianceExtractor) Name() string { return "compliance" }

// Extract implements Extractor.
func (ComplianceExtractor) Extract(doc Document) []Entity {
	var out []Entity
	seen := make(map[string]struct{})
	notes := "Mentioned at " + hostPath(doc.URL)
	for _, m := range complianceRe.FindAllString(doc.Text, -1) {
		fw := strings.ToUpper(spaceRe.ReplaceAllString(m, " "))
		if _, ok := seen[fw]; ok {
			continue
		}
		seen[fw] = struct{}{}
		out = append(out, Entity{Kind: KindCompliance, Compliance: &Compliance{
			Framework: fw,
			Status:    ComplianceStatusClaims,
			Notes:     notes,
		}})
	}
	return out
}
