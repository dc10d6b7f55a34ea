package model

import "time"

// Project describes the product a competitive analysis is run for.
type Project struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Category    string    `json:"category,omitempty" yaml:"category"`
	Industry    string    `json:"industry,omitempty" yaml:"industry"`
	SubIndustry string    `json:"sub_industry,omitempty" yaml:"sub_industry"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Keywords    []string  `json:"keywords,omitempty" yaml:"keywords"`
	Competitors []string  `json:"competitors,omitempty" yaml:"competitors"`
	Segments    []string  `json:"segments,omitempty" yaml:"segments"`
	Regions     []string  `json:"regions,omitempty" yaml:"regions"`
	Monitoring  bool      `json:"monitoring" yaml:"monitoring"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
}
