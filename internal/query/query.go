// Package query builds discovery search queries from project attributes.
package query

import (
	"regexp"
	"strings"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/vertical"
)

// DefaultMaxQueries caps the query list when Input.Max is unset.
const DefaultMaxQueries = 20

const (
	maxDescriptionTerms = 3
	maxAccents          = 5
)

// Input holds the project attributes queries are built from.
type Input struct {
	Name        string
	Category    string
	Keywords    []string
	Competitors []string
	Description string
	Segments    []string
	Regions     []string
	Industry    string
	SubIndustry string
	Profile     vertical.Profile
	Max         int
}

// FromProject builds an Input from a stored project and its profile.
func FromProject(p *model.Project, profile vertical.Profile) Input {
	return Input{
		Name:        p.Name,
		Category:    p.Category,
		Keywords:    p.Keywords,
		Competitors: p.Competitors,
		Description: p.Description,
		Segments:    p.Segments,
		Regions:     p.Regions,
		Industry:    p.Industry,
		SubIndustry: p.SubIndustry,
		Profile:     profile,
	}
}

var (
	whitespace    = regexp.MustCompile(`\s+`)
	termSeparator = regexp.MustCompile(`[,.;]`)
)

// builder accumulates unique, whitespace-normalized queries in insertion order.
type builder struct {
	seen map[string]bool
	out  []string
}

func (b *builder) push(q string) {
	q = strings.TrimSpace(whitespace.ReplaceAllString(q, " "))
	if q == "" || b.seen[q] {
		return
	}
	b.seen[q] = true
	b.out = append(b.out, q)
}

// Build returns an ordered, deduplicated list of search queries. Templates
// whose placeholder would be empty are skipped.
func Build(in Input) []string {
	b := &builder{seen: make(map[string]bool)}

	product := strings.TrimSpace(in.Name)
	category := strings.TrimSpace(in.Category)
	keywords := trimAll(in.Keywords)
	competitors := trimAll(in.Competitors)
	segments := trimAll(in.Segments)
	regions := trimAll(in.Regions)

	if product != "" {
		b.push(product + " competitor analysis")
		b.push(product + " vs alternatives")
		b.push(product + " pricing comparison")
		b.push(product + " feature comparison")
		b.push(product + " market positioning")
	}

	base := strings.Join(nonEmpty(append([]string{category}, keywords...)), " ")
	if base != "" {
		b.push(base + " alternatives")
		b.push(base + " competitors")
		b.push(base + " reviews")
		b.push(base + " best tools")
	}

	for _, term := range DescriptionTerms(in.Description) {
		if product != "" {
			b.push(product + " " + term + " competitors")
			b.push(product + " " + term + " use cases")
		}
		if category != "" {
			b.push(category + " " + term + " tools")
		}
	}

	for _, s := range segments {
		if product != "" {
			b.push(product + " for " + s)
		}
		if category != "" {
			b.push(category + " tools for " + s)
		}
	}

	for _, c := range competitors {
		b.push(c + " features")
		b.push(c + " pricing")
		b.push(c + " integrations")
		b.push(c + " reviews")
		if product != "" {
			b.push(c + " vs " + product)
		} else {
			b.push(c + " vs alternatives")
		}
	}

	if industry := strings.TrimSpace(in.Industry); industry != "" {
		b.push(industry + " market analysis")
		b.push(industry + " software competitors")
	}
	if sub := strings.TrimSpace(in.SubIndustry); sub != "" {
		b.push(sub + " platforms comparison")
	}

	for _, r := range regions {
		if product != "" {
			b.push(product + " adoption in " + r)
		}
		if category != "" {
			b.push(category + " tools " + r)
		}
	}

	accents := in.Profile.QueryAccents
	if len(accents) > maxAccents {
		accents = accents[:maxAccents]
	}
	for _, a := range accents {
		if product != "" {
			b.push(product + " " + a)
		}
		if category != "" {
			b.push(category + " " + a)
		}
	}

	if len(b.out) == 0 {
		subject := firstNonEmpty(product, category, "software")
		b.push(subject + " competitor analysis")
		b.push(subject + " market overview")
	}

	limit := in.Max
	if limit <= 0 {
		limit = DefaultMaxQueries
	}
	if len(b.out) > limit {
		return b.out[:limit]
	}
	return b.out
}

// DescriptionTerms splits a free-text description into at most three
// phrase terms longer than three characters.
func DescriptionTerms(desc string) []string {
	var terms []string
	for _, part := range termSeparator.Split(desc, -1) {
		part = strings.TrimSpace(part)
		if len(part) <= 3 {
			continue
		}
		terms = append(terms, part)
		if len(terms) == maxDescriptionTerms {
			break
		}
	}
	return terms
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func nonEmpty(items []string) []string {
	out := items[:0:0]
	for _, s := range items {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
