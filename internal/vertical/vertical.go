// Package vertical maps a project's industry classification to a report
// shape and extraction emphasis.
package vertical

import (
	_ "embed"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/intel-cli/internal/model"
)

// Key identifies a vertical profile.
type Key string

const (
	B2BSaaS       Key = "B2B_SAAS"
	APIPlatform   Key = "API_PLATFORM"
	ConsumerApp   Key = "CONSUMER_APP"
	EcommerceTool Key = "ECOMMERCE_TOOL"
	Fintech       Key = "FINTECH"
	DevTools      Key = "DEVTOOLS"
	Healthcare    Key = "HEALTHCARE"
)

// Keys lists every built-in profile key.
var Keys = []Key{B2BSaaS, APIPlatform, ConsumerApp, EcommerceTool, Fintech, DevTools, Healthcare}

// Section is one report section.
type Section struct {
	ID      string `yaml:"id" json:"id"`
	Title   string `yaml:"title" json:"title"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// Emphasis lists what the report and extraction should highlight.
type Emphasis struct {
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
	MustHave     []string `yaml:"must_have" json:"must_have,omitempty"`
	Compliance   []string `yaml:"compliance" json:"compliance,omitempty"`
}

// Profile is the report shape for one vertical.
type Profile struct {
	Key          Key       `yaml:"-" json:"key"`
	Label        string    `yaml:"label" json:"label"`
	Sections     []Section `yaml:"sections" json:"sections"`
	Emphasize    Emphasis  `yaml:"emphasize" json:"emphasize"`
	QueryAccents []string  `yaml:"query_accents" json:"query_accents"`
}

// EnabledSections returns the sections to render, in order.
func (p Profile) EnabledSections() []Section {
	var out []Section
	for _, s := range p.Sections {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Catalog holds the loaded profiles.
type Catalog struct {
	profiles map[Key]Profile
}

// catalogFile mirrors profiles.yaml. Profiles without their own sections
// inherit the shared list.
type catalogFile struct {
	Verticals struct {
		Sections []Section          `yaml:"sections"`
		Profiles map[string]Profile `yaml:"profiles"`
	} `yaml:"verticals"`
}

//go:embed profiles.yaml
var embeddedProfiles []byte

// Parse builds a catalog from YAML. Every built-in key must be present.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "vertical: parse profiles")
	}

	c := &Catalog{profiles: make(map[Key]Profile, len(f.Verticals.Profiles))}
	for name, p := range f.Verticals.Profiles {
		p.Key = Key(strings.ToUpper(name))
		if len(p.Sections) == 0 {
			p.Sections = append([]Section(nil), f.Verticals.Sections...)
		}
		c.profiles[p.Key] = p
	}
	for _, k := range Keys {
		if _, ok := c.profiles[k]; !ok {
			return nil, eris.Errorf("vertical: profile %s missing", k)
		}
	}
	return c, nil
}

// LoadFile reads a catalog from a YAML file on disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vertical: read profiles %s", path)
	}
	return Parse(data)
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	c, err := Parse(embeddedProfiles)
	if err != nil {
		panic(err)
	}
	return c
})

// Default returns the catalog built from the embedded profiles.
func Default() *Catalog {
	return defaultCatalog()
}

// Get returns the profile for key, falling back to B2B_SAAS.
func (c *Catalog) Get(key Key) Profile {
	if p, ok := c.profiles[key]; ok {
		return p
	}
	return c.profiles[B2BSaaS]
}

// Resolve returns the profile inferred for a project.
func (c *Catalog) Resolve(p *model.Project) Profile {
	if p == nil {
		return c.Get(B2BSaaS)
	}
	return c.Get(Infer(p.Industry, p.SubIndustry))
}

// Infer picks a vertical key from industry and sub-industry. The checks
// are ordered; the first match wins.
func Infer(industry, subIndustry string) Key {
	i := strings.ToLower(industry)
	s := strings.ToLower(subIndustry)

	switch {
	case strings.Contains(i, "fintech") || strings.Contains(s, "payments"):
		return Fintech
	case strings.Contains(i, "health") || strings.Contains(s, "hipaa"):
		return Healthcare
	case strings.Contains(i, "dev") || strings.Contains(s, "api") || strings.Contains(s, "observability"):
		return DevTools
	case strings.Contains(i, "api"):
		return APIPlatform
	case strings.Contains(i, "ecom"):
		return EcommerceTool
	case strings.Contains(i, "consumer") || strings.Contains(i, "social"):
		return ConsumerApp
	default:
		return B2BSaaS
	}
}

// Get returns the embedded profile for key.
func Get(key Key) Profile {
	return Default().Get(key)
}

// Resolve returns the embedded profile inferred for a project.
func Resolve(p *model.Project) Profile {
	return Default().Resolve(p)
}
