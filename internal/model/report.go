package model

import "time"

// ReportFormat tags the rendering of a report body.
type ReportFormat string

const (
	ReportFormatMarkdown ReportFormat = "MARKDOWN"
	ReportFormatXLSX     ReportFormat = "XLSX"
)

// Report is a rendered artifact. Reports are append-only per run; a newer
// report supersedes older ones without replacing them.
type Report struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	ProjectID string       `json:"project_id"`
	Headline  string       `json:"headline"`
	Body      string       `json:"body"`
	Format    ReportFormat `json:"format"`
	Approved  bool         `json:"approved"`
	CreatedAt time.Time    `json:"created_at"`
}
