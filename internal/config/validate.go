package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the fields a command mode depends on. Mode is one of
// "run", "serve" or "store".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "store":
	case "run":
		problems = append(problems, c.validatePipeline()...)
	case "serve":
		problems = append(problems, c.validatePipeline()...)
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Scheduler.Concurrency < 1 {
			problems = append(problems, "scheduler.concurrency must be >= 1")
		}
		if c.Scheduler.PollSecs < 1 {
			problems = append(problems, "scheduler.poll_secs must be >= 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validatePipeline() []string {
	var problems []string
	if c.Pipeline.SearchConcurrency < 1 || c.Pipeline.SearchConcurrency > 32 {
		problems = append(problems, "pipeline.search_concurrency must be between 1 and 32")
	}
	if c.Pipeline.FetchConcurrency < 1 || c.Pipeline.FetchConcurrency > 32 {
		problems = append(problems, "pipeline.fetch_concurrency must be between 1 and 32")
	}
	if c.Pipeline.MaxQueries < 1 {
		problems = append(problems, "pipeline.max_queries must be >= 1")
	}
	if c.Fetch.TimeoutSecs < 1 {
		problems = append(problems, "fetch.timeout_secs must be >= 1")
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		problems = append(problems, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	return problems
}
