package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the jobingest server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Feeds     FeedsConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port             int
	Env              string
	TriggerRateLimit int
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

// FeedSource is one configured external job feed.
type FeedSource struct {
	Name string
	URL  string
}

type FeedsConfig struct {
	Sources     []FeedSource
	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	UserAgent   string
}

type QueueConfig struct {
	Name           string
	Concurrency    int
	MaxRetry       int
	BackoffBase    time.Duration
	EnqueueTimeout time.Duration
	StatsTimeout   time.Duration
	KeepCompleted  int
	KeepFailed     int
}

type SchedulerConfig struct {
	Cron       string
	Enabled    bool
	RunOnStart bool
}

const defaultUserAgent = "jobingest/1.0 (+feed importer)"

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	sources, err := ParseFeedSources(os.Getenv("FEED_SOURCES"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:             envInt("JOBINGEST_PORT", 8080),
			Env:              envString("JOBINGEST_ENV", "development"),
			TriggerRateLimit: envInt("TRIGGER_RATE_LIMIT", 6),
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
		Feeds: FeedsConfig{
			Sources:     sources,
			Timeout:     envDuration("FEED_TIMEOUT", 30*time.Second),
			MaxAttempts: envInt("FEED_MAX_ATTEMPTS", 3),
			RetryBase:   envDuration("FEED_RETRY_BASE", time.Second),
			UserAgent:   envString("FEED_USER_AGENT", defaultUserAgent),
		},
		Queue: QueueConfig{
			Name:           envString("QUEUE_NAME", "job-import"),
			Concurrency:    envInt("QUEUE_CONCURRENCY", 5),
			MaxRetry:       envInt("QUEUE_MAX_RETRY", 3),
			BackoffBase:    envDuration("QUEUE_BACKOFF_BASE", 2*time.Second),
			EnqueueTimeout: envDuration("QUEUE_ENQUEUE_TIMEOUT", 20*time.Second),
			StatsTimeout:   envDuration("QUEUE_STATS_TIMEOUT", 3*time.Second),
			KeepCompleted:  envInt("QUEUE_KEEP_COMPLETED", 100),
			KeepFailed:     envInt("QUEUE_KEEP_FAILED", 50),
		},
		Scheduler: SchedulerConfig{
			Cron:       envString("IMPORT_CRON", "0 * * * *"),
			Enabled:    envBool("IMPORT_CRON_ENABLED", true),
			RunOnStart: envBool("IMPORT_RUN_ON_START", false),
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

	if len(c.Feeds.Sources) == 0 {
		return fmt.Errorf("FEED_SOURCES is required")
	}
	if c.Feeds.MaxAttempts < 1 {
		return fmt.Errorf("FEED_MAX_ATTEMPTS must be at least 1, got %d", c.Feeds.MaxAttempts)
	}

	if strings.TrimSpace(c.Queue.Name) == "" {
		return fmt.Errorf("QUEUE_NAME must not be blank")
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1, got %d", c.Queue.Concurrency)
	}

	if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
		return fmt.Errorf("IMPORT_CRON %q is invalid: %w", c.Scheduler.Cron, err)
	}

	return nil
}

// ParseFeedSources parses "Name=URL" pairs separated by ';' or newlines.
// Order is preserved; it is the order feeds are imported in.
func ParseFeedSources(raw string) ([]FeedSource, error) {
	var sources []FeedSource
	entries := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '\n' })
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, u, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("FEED_SOURCES entry %q must be Name=URL", entry)
		}
		name, u = strings.TrimSpace(name), strings.TrimSpace(u)
		if name == "" {
			return nil, fmt.Errorf("FEED_SOURCES entry %q has an empty name", entry)
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return nil, fmt.Errorf("FEED_SOURCES url for %q must start with http:// or https://, got %q", name, u)
		}
		sources = append(sources, FeedSource{Name: name, URL: u})
	}
	return sources, nil
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

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
