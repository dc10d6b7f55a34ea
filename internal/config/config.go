package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Credits    CreditsConfig    `yaml:"credits" mapstructure:"credits"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Settings   SettingsConfig   `yaml:"settings" mapstructure:"settings"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SearchConfig holds search backend credentials and throttling.
type SearchConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"`
	TavilyKey         string  `yaml:"tavily_key" mapstructure:"tavily_key"`
	TavilyBaseURL     string  `yaml:"tavily_base_url" mapstructure:"tavily_base_url"`
	SerpAPIKey        string  `yaml:"serpapi_key" mapstructure:"serpapi_key"`
	SerpAPIBaseURL    string  `yaml:"serpapi_base_url" mapstructure:"serpapi_base_url"`
	JinaKey           string  `yaml:"jina_key" mapstructure:"jina_key"`
	JinaReadBaseURL   string  `yaml:"jina_read_base_url" mapstructure:"jina_read_base_url"`
	JinaSearchBaseURL string  `yaml:"jina_search_base_url" mapstructure:"jina_search_base_url"`
	GoogleNewsBaseURL string  `yaml:"googlenews_base_url" mapstructure:"googlenews_base_url"`
	RatePerSec        float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// FetchConfig configures source content retrieval.
type FetchConfig struct {
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxChars     int    `yaml:"max_chars" mapstructure:"max_chars"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
	JinaFallback bool   `yaml:"jina_fallback" mapstructure:"jina_fallback"`
}

// PipelineConfig configures run orchestration.
type PipelineConfig struct {
	SearchConcurrency int `yaml:"search_concurrency" mapstructure:"search_concurrency"`
	FetchConcurrency  int `yaml:"fetch_concurrency" mapstructure:"fetch_concurrency"`
	StaleDays         int `yaml:"stale_days" mapstructure:"stale_days"`
	MaxQueries        int `yaml:"max_queries" mapstructure:"max_queries"`
	ResultsPerQuery   int `yaml:"results_per_query" mapstructure:"results_per_query"`
}

// SchedulerConfig configures the background task scheduler.
type SchedulerConfig struct {
	PollSecs          int `yaml:"poll_secs" mapstructure:"poll_secs"`
	Concurrency       int `yaml:"concurrency" mapstructure:"concurrency"`
	RerunMinAgeDays   int `yaml:"rerun_min_age_days" mapstructure:"rerun_min_age_days"`
	CleanupMaxAgeDays int `yaml:"cleanup_max_age_days" mapstructure:"cleanup_max_age_days"`
	ErrorBackoffSecs  int `yaml:"error_backoff_secs" mapstructure:"error_backoff_secs"`
}

// WorkerConfig configures the run job worker.
type WorkerConfig struct {
	PollSecs int `yaml:"poll_secs" mapstructure:"poll_secs"`
}

// CreditsConfig configures the monthly run allowance per project.
type CreditsConfig struct {
	MonthlyLimit int `yaml:"monthly_limit" mapstructure:"monthly_limit"`
}

// MonitoringConfig configures run health alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	SlackWebhookURL      string  `yaml:"slack_webhook_url" mapstructure:"slack_webhook_url"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CheckIntervalMins    int     `yaml:"check_interval_mins" mapstructure:"check_interval_mins"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StuckRunMins         int     `yaml:"stuck_run_mins" mapstructure:"stuck_run_mins"`
}

// SettingsConfig configures the cached runtime settings loader.
type SettingsConfig struct {
	CacheTTLSecs int `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "intel.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("search.provider", "")
	v.SetDefault("search.tavily_key", "")
	v.SetDefault("search.serpapi_key", "")
	v.SetDefault("search.jina_key", "")
	v.SetDefault("search.tavily_base_url", "https://api.tavily.com")
	v.SetDefault("search.serpapi_base_url", "https://serpapi.com")
	v.SetDefault("search.jina_read_base_url", "https://r.jina.ai")
	v.SetDefault("search.jina_search_base_url", "https://s.jina.ai")
	v.SetDefault("search.googlenews_base_url", "https://news.google.com")
	v.SetDefault("search.rate_per_sec", 2.0)
	v.SetDefault("search.burst", 2)
	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.max_chars", 300000)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; IntelBot/1.0; +https://example.com)")
	v.SetDefault("fetch.jina_fallback", false)
	v.SetDefault("pipeline.search_concurrency", 4)
	v.SetDefault("pipeline.fetch_concurrency", 5)
	v.SetDefault("pipeline.stale_days", 180)
	v.SetDefault("pipeline.max_queries", 20)
	v.SetDefault("pipeline.results_per_query", 10)
	v.SetDefault("scheduler.poll_secs", 30)
	v.SetDefault("scheduler.concurrency", 3)
	v.SetDefault("scheduler.rerun_min_age_days", 7)
	v.SetDefault("scheduler.cleanup_max_age_days", 30)
	v.SetDefault("scheduler.error_backoff_secs", 60)
	v.SetDefault("worker.poll_secs", 5)
	v.SetDefault("credits.monthly_limit", 1000)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.slack_webhook_url", "")
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.check_interval_mins", 15)
	v.SetDefault("monitoring.failure_rate_threshold", 0.3)
	v.SetDefault("monitoring.stuck_run_mins", 60)
	v.SetDefault("settings.cache_ttl_secs", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
