// Package extract turns normalized page text into typed entities:
// capabilities, features, pricing plans, compliance claims, integrations and
// the brand a page belongs to. Extractors are deterministic and stateless.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Kind tags the variant carried by an Entity.
type Kind string

const (
	KindCapability  Kind = "capability"
	KindFeature     Kind = "feature"
	KindPricing     Kind = "pricing"
	KindCompliance  Kind = "compliance"
	KindIntegration Kind = "integration"
	KindIdentity    Kind = "identity"
)

// Document is one fetched source ready for extraction.
type Document struct {
	SourceID string
	URL      string
	Title    string
	Text     string
}

// Capability is a category-tagged signal.
type Capability struct {
	Category   string
	Name       string
	Normalized string
}

// Feature is a capability with the sentence that mentions it.
type Feature struct {
	Category    string
	Name        string
	Normalized  string
	Description string
}

// Pricing is one plan row.
type Pricing struct {
	Plan     string
	Monthly  *float64
	Annual   *float64
	FeePct   *float64
	Currency string
}

// Compliance is a claimed compliance framework.
type Compliance struct {
	Framework string
	Status    string
	Notes     string
}

// Integration is a named third-party vendor.
type Integration struct {
	Vendor   string
	Category string
}

// Identity is the brand a page belongs to.
type Identity struct {
	Name    string
	Website string
}

// Entity is a tagged union. Exactly one pointer matching Kind is set.
type Entity struct {
	Kind        Kind
	Capability  *Capability
	Feature     *Feature
	Pricing     *Pricing
	Compliance  *Compliance
	Integration *Integration
	Identity    *Identity
}

// Extractor pulls entities out of a document.
type Extractor interface {
	Name() string
	Extract(doc Document) []Entity
}

// Error reports an extractor that panicked on a document.
type Error struct {
	Extractor string
	URL       string
	Msg       string
}

func (e *Error) Error() string {
	if e.Extractor == PricingName {
		return fmt.Sprintf("Pricing parse failed for %s: %s", e.URL, e.Msg)
	}
	return fmt.Sprintf("%s extraction failed for %s: %s", e.Extractor, e.URL, e.Msg)
}

// Registry runs a fixed list of extractors in registration order.
type Registry struct {
	extractors []Extractor
}

// NewRegistry creates a registry with the given extractors.
func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// Default returns a registry with every built-in extractor.
func Default() *Registry {
	return NewRegistry(
		IdentityExtractor{},
		CapabilitiesExtractor{},
		FeaturesExtractor{},
		VendorsExtractor{},
		ComplianceExtractor{},
		PricingExtractor{},
	)
}

// Register appends an extractor.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
}

// Names lists the registered extractor names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.extractors))
	for i, e := range r.extractors {
		names[i] = e.Name()
	}
	return names
}

// Extract runs every extractor over doc and concatenates the output. An
// extractor that panics contributes no entities and one *Error.
func (r *Registry) Extract(doc Document) ([]Entity, []error) {
	var (
		out  []Entity
		errs []error
	)
	for _, e := range r.extractors {
		ents, err := safeExtract(e, doc)
		if err != nil {
			zap.L().Warn("extract: extractor failed",
				zap.String("extractor", e.Name()),
				zap.String("url", doc.URL),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		out = append(out, ents...)
	}
	return out, errs
}

func safeExtract(e Extractor, doc Document) (ents []Entity, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ents = nil
			err = &Error{Extractor: e.Name(), URL: doc.URL, Msg: fmt.Sprint(rec)}
		}
	}()
	return e.Extract(doc), nil
}

var (
	nonWordRe = regexp.MustCompile(`[^\w\s]`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// Normalize lowercases s, strips punctuation and collapses whitespace.
func Normalize(s string) string {
	s = nonWordRe.ReplaceAllString(strings.ToLower(s), "")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// hostPath returns host+path of rawURL, or rawURL when it does not parse.
func hostPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host + u.Path
}
