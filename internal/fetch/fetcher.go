// Package fetch retrieves source pages and normalizes them to plain text.
package fetch

import (
	"context"
	"time"
)

// Defaults applied when a Config field is unset.
const (
	DefaultTimeout      = 20 * time.Second
	DefaultMaxChars     = 300000
	DefaultMaxBodyBytes = 5 << 20
	DefaultUserAgent    = "Mozilla/5.0 (compatible; IntelBot/1.0; +https://example.com)"
)

// Page is a fetched, normalized source.
type Page struct {
	URL        string
	Title      string
	Text       string
	StatusCode int
	Source     string // fetcher name, e.g. "local_http", "jina"
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Name() string
}

// Config tunes the local HTTP fetcher.
type Config struct {
	Timeout      time.Duration
	MaxChars     int
	MaxBodyBytes int64
	UserAgent    string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}
