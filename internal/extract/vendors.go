package extract

import (
	"regexp"
	"strings"
)

var vendorRe = regexp.MustCompile(`(?i)\b(Shopify|Salesforce|HubSpot|Zapier|Stripe|Segment|Snowflake|Slack|Google Analytics|Datadog|Amplitude|Notion|Zendesk|PayPal|Adyen|Paddle|Klaviyo|Marketo|Intercom)\b`)

// vendorSpelling restores the brand casing of a case-insensitive match.
var vendorSpelling = map[string]string{
	"shopify":          "Shopify",
	"salesforce":       "Salesforce",
	"hubspot":          "HubSpot",
	"zapier":           "Zapier",
	"stripe":           "Stripe",
	"segment":          "Segment",
	"snowflake":        "Snowflake",
	"slack":            "Slack",
	"google analytics": "Google Analytics",
	"datadog":          "Datadog",
	"amplitude":        "Amplitude",
	"notion":           "Notion",
	"zendesk":          "Zendesk",
	"paypal":           "PayPal",
	"adyen":            "Adyen",
	"paddle":           "Paddle",
	"klaviyo":          "Klaviyo",
	"marketo":          "Marketo",
	"intercom":         "Intercom",
}

var vendorCategories = []struct {
	category string
	needles  []string
}{
	{"Ecommerce", []string{"shopify", "woocommerce", "bigcommerce"}},
	{"CRM", []string{"salesforce", "hubspot", "pipedrive", "zoho"}},
	{"Data/Analytics", []string{"segment", "snowflake", "datadog", "amplitude", "google analytics"}},
	{"Payments", []string{"stripe", "paypal", "adyen", "paddle"}},
}

// VendorCategory tags a vendor by name.
func VendorCategory(vendor string) string {
	v := strings.ToLower(vendor)
	for _, c := range vendorCategories {
		for _, n := range c.needles {
			if strings.Contains(v, n) {
				return c.category
			}
		}
	}
	return "Productivity"
}

// VendorsExtractor finds named third-party integrations.
type VendorsExtractor struct{}

// Name implements Extractor.
func (VendorsExtractor) Name() string { return "vendors" }

// Extract implements Extractor.
func (VendorsExtractor) Extract(doc Document) []Entity {
	var out []Entity
	seen := make(map[string]struct{})
	for _, m := range vendorRe.FindAllString(doc.Text, -1) {
		key := strings.ToLower(spaceRe.ReplaceAllString(m, " "))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		name, ok := vendorSpelling[key]
		if !ok {
			name = m
		}
		out = append(out, Entity{Kind: KindIntegration, Integration: &Integration{
			Vendor:   name,
			Category: VendorCategory(name),
		}})
	}
	return out
}
