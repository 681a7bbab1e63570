package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ProductLens server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Stages   StagesConfig
	Pipeline PipelineConfig
	Dispatch DispatchConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
	AllowedOrigins     []string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// StagesConfig locates the four remote stages. It is read once at startup
// and passed by value into each stage client.
type StagesConfig struct {
	ScraperURL      string
	ClassifierURL   string
	AnalysisURL     string
	ScrapeTimeout   time.Duration
	ClassifyTimeout time.Duration
	AnalyzeTimeout  time.Duration
	RenderTimeout   time.Duration
}

type PipelineConfig struct {
	MinClassified   int
	FallbackReviews int
}

type DispatchConfig struct {
	Mode        string
	Concurrency int
}

type LogConfig struct {
	Level string
	File  string
}

const (
	DispatchInline = "inline"
	DispatchQueue  = "queue"
)

var validDispatchModes = map[string]bool{
	DispatchInline: true,
	DispatchQueue:  true,
}

var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("PRODUCTLENS_PORT", 8080),
			Env:                envString("PRODUCTLENS_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
			AllowedOrigins:     envList("CORS_ALLOWED_ORIGINS", defaultOrigins),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Stages: StagesConfig{
			ScraperURL:      strings.TrimRight(os.Getenv("SCRAPER_URL"), "/"),
			ClassifierURL:   strings.TrimRight(os.Getenv("CLASSIFIER_URL"), "/"),
			AnalysisURL:     strings.TrimRight(os.Getenv("ANALYSIS_URL"), "/"),
			ScrapeTimeout:   envDurationSecs("SCRAPE_TIMEOUT_SECS", 120*time.Second),
			ClassifyTimeout: envDurationSecs("CLASSIFY_TIMEOUT_SECS", 180*time.Second),
			AnalyzeTimeout:  envDurationSecs("ANALYZE_TIMEOUT_SECS", 300*time.Second),
			RenderTimeout:   envDurationSecs("RENDER_TIMEOUT_SECS", 120*time.Second),
		},
		Pipeline: PipelineConfig{
			MinClassified:   envInt("PIPELINE_MIN_CLASSIFIED", 5),
			FallbackReviews: envInt("PIPELINE_FALLBACK_REVIEWS", 15),
		},
		Dispatch: DispatchConfig{
			Mode:        envString("DISPATCH_MODE", DispatchInline),
			Concurrency: envInt("WORKER_CONCURRENCY", 4),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	stageURLs := []struct {
		name, value string
	}{
		{"SCRAPER_URL", c.Stages.ScraperURL},
		{"CLASSIFIER_URL", c.Stages.ClassifierURL},
		{"ANALYSIS_URL", c.Stages.AnalysisURL},
	}
	for _, u := range stageURLs {
		if u.value == "" {
			return fmt.Errorf("%s is required", u.name)
		}
		if !strings.HasPrefix(u.value, "http://") && !strings.HasPrefix(u.value, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", u.name, u.value)
		}
	}

	if c.Pipeline.MinClassified < 0 {
		return fmt.Errorf("PIPELINE_MIN_CLASSIFIED must be >= 0, got %d", c.Pipeline.MinClassified)
	}
	if c.Pipeline.FallbackReviews <= 0 {
		return fmt.Errorf("PIPELINE_FALLBACK_REVIEWS must be > 0, got %d", c.Pipeline.FallbackReviews)
	}

	if !validDispatchModes[c.Dispatch.Mode] {
		return fmt.Errorf("DISPATCH_MODE must be one of inline, queue; got %q", c.Dispatch.Mode)
	}
	if c.Dispatch.Mode == DispatchQueue && strings.HasPrefix(c.Database.URL, "memory://") {
		return fmt.Errorf("DISPATCH_MODE=queue needs a store shared with cmd/worker; DATABASE_URL memory:// is per process")
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be > 0, got %d", c.Dispatch.Concurrency)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
