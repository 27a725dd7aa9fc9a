package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// DeploymentMode selects quota defaults and other operational knobs.
type DeploymentMode string

const (
	ModeProduction  DeploymentMode = "production"
	ModeDevelopment DeploymentMode = "development"
)

// Config represents runtime configuration derived from environment variables.
// Source and profile definitions live in a separate YAML catalog (see Loader).
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Pipeline  PipelineConfig
	Cache     CacheConfig
	Providers ProviderConfig
	Scheduler SchedulerConfig

	Mode        DeploymentMode
	CatalogPath string
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig holds the connection string for the durable store. When URL
// is empty the service runs on the in-memory store.
type DatabaseConfig struct {
	URL string
}

// PipelineConfig bounds the aggregation run.
type PipelineConfig struct {
	FetchTimeout      time.Duration // per-source fetch budget
	FetchConcurrency  int           // concurrent source fetches per run
	RunTimeout        time.Duration // whole-run budget
	EnrichConcurrency int           // concurrent provider calls per batch
	EnrichRatePerSec  float64       // shared provider rate limit
	EnrichTimeout     time.Duration // per-item provider budget
}

// CacheConfig controls the result cache and the AI-run quota.
type CacheConfig struct {
	TTL        time.Duration
	QuotaLimit int // AI-enabled fresh runs per calendar day
}

// ProviderConfig holds AI provider credentials and model selection.
type ProviderConfig struct {
	OpenAIKey      string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
	GitHubToken    string
	UseMock        bool
}

// SchedulerConfig controls the background refresh job.
type SchedulerConfig struct {
	Enabled  bool
	CronSpec string
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultFetchTimeout      = 10 * time.Second
	defaultFetchConcurrency  = 4
	defaultRunTimeout        = 60 * time.Second
	defaultEnrichConcurrency = 3
	defaultEnrichRate        = 2.0
	defaultEnrichTimeout     = 45 * time.Second

	defaultCacheTTL = 12 * time.Hour

	// Quota defaults per deployment mode. Values are configuration, not
	// behavior: CACHE_QUOTA_LIMIT overrides both.
	defaultQuotaProduction  = 10
	defaultQuotaDevelopment = 200

	defaultCatalogPath = "./catalog.yaml"
	defaultCronSpec    = "0 */4 * * *"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided.
func Load() (Config, error) {
	mode := ModeProduction
	if v := os.Getenv("DEPLOYMENT_MODE"); v != "" {
		switch DeploymentMode(v) {
		case ModeProduction, ModeDevelopment:
			mode = DeploymentMode(v)
		default:
			return Config{}, fmt.Errorf("invalid DEPLOYMENT_MODE: must be 'production' or 'development'")
		}
	}

	quota := defaultQuotaProduction
	if mode == ModeDevelopment {
		quota = defaultQuotaDevelopment
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", getEnv("SERVER_PORT", defaultPort)),
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Pipeline: PipelineConfig{
			FetchTimeout:      defaultFetchTimeout,
			FetchConcurrency:  defaultFetchConcurrency,
			RunTimeout:        defaultRunTimeout,
			EnrichConcurrency: defaultEnrichConcurrency,
			EnrichRatePerSec:  defaultEnrichRate,
			EnrichTimeout:     defaultEnrichTimeout,
		},
		Cache: CacheConfig{
			TTL:        defaultCacheTTL,
			QuotaLimit: quota,
		},
		Providers: ProviderConfig{
			OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
			OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicModel: getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
			GitHubToken:    os.Getenv("GITHUB_TOKEN"),
			UseMock:        os.Getenv("AI_PROVIDER") == "mock",
		},
		Scheduler: SchedulerConfig{
			Enabled:  os.Getenv("SCHEDULER_ENABLED") != "false",
			CronSpec: getEnv("SCHEDULER_CRON", defaultCronSpec),
		},
		Mode:        mode,
		CatalogPath: getEnv("CATALOG_PATH", defaultCatalogPath),
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	for _, p := range []struct {
		env string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT_SECONDS", &cfg.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT_SECONDS", &cfg.Server.WriteTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownTimeout},
		{"FETCH_TIMEOUT_SECONDS", &cfg.Pipeline.FetchTimeout},
		{"RUN_TIMEOUT_SECONDS", &cfg.Pipeline.RunTimeout},
		{"ENRICH_TIMEOUT_SECONDS", &cfg.Pipeline.EnrichTimeout},
		{"CACHE_TTL_SECONDS", &cfg.Cache.TTL},
	} {
		if v := os.Getenv(p.env); v != "" {
			d, err := parseSeconds(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", p.env, err)
			}
			*p.dst = d
		}
	}

	for _, p := range []struct {
		env string
		dst *int
	}{
		{"FETCH_CONCURRENCY", &cfg.Pipeline.FetchConcurrency},
		{"ENRICH_CONCURRENCY", &cfg.Pipeline.EnrichConcurrency},
		{"CACHE_QUOTA_LIMIT", &cfg.Cache.QuotaLimit},
	} {
		if v := os.Getenv(p.env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return Config{}, fmt.Errorf("invalid %s: must be a positive integer", p.env)
			}
			*p.dst = n
		}
	}

	return cfg, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
