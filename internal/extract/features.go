package extract

import (
	"regexp"
	"strings"
)

const maxDescriptionRunes = 240

var sentenceSplitRe = regexp.MustCompile(`[.!?]\s+|\n+`)

// featureCanon maps common phrasings to one feature name.
var featureCanon = map[string]string{
	"1-tap checkout":    "Fast checkout",
	"1-click checkout":  "Fast checkout",
	"bookings":          "1:1 bookings",
	"appointments":      "1:1 bookings",
	"courses":           "Course builder",
	"online courses":    "Course builder",
	"email marketing":   "Email automation",
	"email automations": "Email automation",
	"tips":              "Tips/Donations",
	"donations":         "Tips/Donations",
}

// CanonicalFeature returns the canonical name for raw, or raw itself.
func CanonicalFeature(raw string) string {
	if c, ok := featureCanon[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return c
	}
	return raw
}

// FeaturesExtractor describes each capability with the first sentence that
// mentions it.
type FeaturesExtractor struct{}

// Name implements Extractor.
func (FeaturesExtractor) Name() string { return "features" }

// Extract implements Extractor.
func (FeaturesExtractor) Extract(doc Document) []Entity {
	caps := Capabilities(doc.Text)
	if len(caps) == 0 {
		return nil
	}
	sentences := Sentences(doc.Text)

	out := make([]Entity, 0, len(caps))
	for _, c := range caps {
		out = append(out, Entity{Kind: KindFeature, Feature: &Feature{
			Category:    c.Category,
			Name:        CanonicalFeature(c.Name),
			Normalized:  c.Normalized,
			Description: describe(c, sentences),
		}})
	}
	return out
}

// Sentences splits text on sentence punctuation and newlines.
func Sentences(text string) []string {
	parts := sentenceSplitRe.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func describe(c Capability, sentences []string) string {
	needle := strings.ToLower(c.Name)
	for _, s := range sentences {
		if strings.Contains(strings.ToLower(s), needle) {
			return truncateRunes(s, maxDescriptionRunes)
		}
	}
	return "Mentioned under " + c.Category
}
