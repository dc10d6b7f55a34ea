package model

import (
	"strings"
	"time"
)

// SourceStatus records the outcome of fetching a source.
type SourceStatus string

const (
	SourceStatusOK    SourceStatus = "OK"
	SourceStatusError SourceStatus = "ERROR"
)

// StaleNotePrefix marks a source whose publication date predates the
// staleness threshold.
const StaleNotePrefix = "Stale source"

// Source is a discovered web page. URL is normalized and unique per run.
type Source struct {
	ID          string       `json:"id"`
	RunID       string       `json:"run_id"`
	URL         string       `json:"url"`
	Title       string       `json:"title"`
	Domain      string       `json:"domain"`
	PublishedAt *time.Time   `json:"published_at,omitempty"`
	FetchedAt   *time.Time   `json:"fetched_at,omitempty"`
	Status      SourceStatus `json:"status"`
	Text        *string      `json:"text,omitempty"`
	Notes       string       `json:"notes,omitempty"`
}

// Stale reports whether the source was flagged stale during discovery.
func (s Source) Stale() bool {
	return strings.Contains(s.Notes, StaleNotePrefix)
}

// Body returns the fetched text or an empty string.
func (s Source) Body() string {
	if s.Text == nil {
		return ""
	}
	return *s.Text
}
