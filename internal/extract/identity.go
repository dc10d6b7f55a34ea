package extract

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleSuffixRe = regexp.MustCompile(`\s*[-\x{2013}|\x{00B7}:].*$`)

// GuessBrand derives a brand name and website from a page title and URL.
// The title prefix wins when it is short enough; otherwise the registrable
// host label is used.
func GuessBrand(title, rawURL string) (name, website string, ok bool) {
	var host string
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	if host != "" {
		website = "https://" + host
	}

	t := strings.TrimSpace(titleSuffixRe.ReplaceAllString(title, ""))
	if n := utf8.RuneCountInString(t); n >= 1 && n <= 50 {
		return t, website, true
	}

	base := baseLabel(host)
	if len(base) < 3 {
		return "", website, false
	}
	return cases.Title(language.English).String(base), website, true
}

// baseLabel returns the label before the TLD, without a www. prefix.
func baseLabel(host string) string {
	host = strings.TrimPrefix(host, "www.")
	labels := strings.Split(host, ".")
	if len(labels) >= 2 {
		return labels[len(labels)-2]
	}
	return labels[0]
}

// IdentityExtractor names the brand a page belongs to.
type IdentityExtractor struct{}

// Name implements Extractor.
func (IdentityExtractor) Name() string { return "identity" }

// Extract implements Extractor.
func (IdentityExtractor) Extract(doc Document) []Entity {
	name, website, ok := GuessBrand(doc.Title, doc.URL)
	if !ok {
		return nil
	}
	return []Entity{{Kind: KindIdentity, Identity: &Identity{Name: name, Website: website}}}
}
