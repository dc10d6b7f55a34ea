package extract

import (
	"regexp"
	"strings"
)

type capabilityFamily struct {
	category string
	patterns []*regexp.Regexp
}

// capabilityFamilies are matched in order. Every pattern ignores case, so
// the integration phrase also picks up lowercase vendor names.
var capabilityFamilies = []capabilityFamily{
	{"Integrations", []*regexp.Regexp{
		regexp.MustCompile(`(?i)integrat(e|ion|ions) with ([A-Z][\w \-+.]{2,40})`),
		regexp.MustCompile(`(?i)\b(Salesforce|HubSpot|Slack|Zapier|Stripe|Segment|Snowflake|Shopify|Google Analytics)\b`),
	}},
	{"Security", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(SSO|SAML|SCIM|RBAC|encryption at rest|encryption in transit|audit logs?|MFA|2FA)\b`),
	}},
	{"Compliance", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(SOC ?2|HIPAA|GDPR|ISO ?27001|PCI[- ]?DSS)\b`),
	}},
	{"API", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(OpenAPI|Swagger|REST|GraphQL|webhooks?|SDKs?)\b`),
	}},
	{"Performance", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(latency|throughput|SLA|RPS|QPS|cold start)\b|\b(99\.9+%)`),
	}},
	{"Automation", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(workflows?|automations?|triggers?|rules engine|playbooks?)\b`),
	}},
	{"Analytics", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(dashboards?|reporting|attribution|cohort|funnel)\b`),
	}},
	{"Permissions", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(RBAC|ABAC|roles?|permissions?|orgs?|teams?)\b`),
	}},
	{"Growth", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(referral|invite|waitlist|viral|A/B|experiments?)\b`),
	}},
}

// CapabilitiesExtractor finds category-tagged capability signals.
type CapabilitiesExtractor struct{}

// Name implements Extractor.
func (CapabilitiesExtractor) Name() string { return "capabilities" }

// Extract implements Extractor.
func (CapabilitiesExtractor) Extract(doc Document) []Entity {
	caps := Capabilities(doc.Text)
	out := make([]Entity, len(caps))
	for i := range caps {
		out[i] = Entity{Kind: KindCapability, Capability: &caps[i]}
	}
	return out
}

// Capabilities returns the capability hits in text, deduplicated by
// category and normalized name.
func Capabilities(text string) []Capability {
	var out []Capability
	seen := make(map[string]struct{})
	for _, fam := range capabilityFamilies {
		for _, re := range fam.patterns {
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				name := strings.TrimSpace(matchName(m))
				norm := Normalize(name)
				if len(norm) < 2 {
					continue
				}
				key := fam.category + "|" + norm
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, Capability{Category: fam.category, Name: name, Normalized: norm})
			}
		}
	}
	return out
}

// matchName prefers the second capture group, then the first, then the
// whole match.
func matchName(m []string) string {
	if len(m) > 2 && m[2] != "" {
		return m[2]
	}
	if len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return m[0]
}
