// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage and snapshot backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Matcher   MatcherConfig   `mapstructure:"matcher"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Snapshots SnapshotConfig  `mapstructure:"snapshots"`
	Events    EventsConfig    `mapstructure:"events"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CrawlerConfig governs dispatcher and crawl pipeline behavior.
type CrawlerConfig struct {
	// Concurrency is the number of queue workers.
	Concurrency int `mapstructure:"concurrency"`
	// PageConcurrency bounds concurrent page visits within one batch.
	PageConcurrency   int           `mapstructure:"page_concurrency"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	ScheduleInterval  time.Duration `mapstructure:"schedule_interval"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	Proxies           []string      `mapstructure:"proxies"`
}

// RateLimitConfig sizes the per-target token buckets.
type RateLimitConfig struct {
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// RecoveryConfig tunes retries and the error alert threshold.
type RecoveryConfig struct {
	Ledger         string        `mapstructure:"ledger"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryCeiling   int           `mapstructure:"retry_ceiling"`
	AlertThreshold int           `mapstructure:"alert_threshold"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	// MaxHistory caps the error entries kept per target.
	MaxHistory int `mapstructure:"max_history"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
}

// MatcherConfig tunes product matching.
type MatcherConfig struct {
	Threshold float64       `mapstructure:"threshold"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisConfig points at the Redis error ledger.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SnapshotConfig sets where raw first-page HTML is archived.
type SnapshotConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig sizes the lifecycle event hub.
type EventsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether lifecycle events are published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.page_concurrency", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.schedule_interval", "30s")
	v.SetDefault("crawler.navigation_timeout", "30s")
	v.SetDefault("crawler.user_agent", "catalog-crawler/0.1")
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 1)
	v.SetDefault("recovery.ledger", BackendMemory)
	v.SetDefault("recovery.max_retries", 3)
	v.SetDefault("recovery.retry_ceiling", 10)
	v.SetDefault("recovery.alert_threshold", 5)
	v.SetDefault("recovery.base_delay", "1s")
	v.SetDefault("recovery.max_delay", "30s")
	v.SetDefault("recovery.max_history", 500)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.settle_delay", "500ms")
	v.SetDefault("headless.promotion_threshold", 512)
	v.SetDefault("matcher.threshold", 0.85)
	v.SetDefault("matcher.cache_size", 256)
	v.SetDefault("matcher.cache_ttl", "5m")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.migrate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "crawler:errors")
	v.SetDefault("snapshots.backend", BackendNone)
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 100)
	v.SetDefault("events.flush_interval", "250ms")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.NavigationTimeout <= 0 {
		return fmt.Errorf("crawler.navigation_timeout must be > 0")
	}
	if c.RateLimit.DefaultRPS < 0 {
		return fmt.Errorf("rate_limit.default_rps must be >= 0")
	}
	if c.Recovery.MaxDelay > 0 && c.Recovery.MaxDelay < c.Recovery.BaseDelay {
		return fmt.Errorf("recovery.max_delay must be >= recovery.base_delay")
	}
	if c.Matcher.Threshold < 0 || c.Matcher.Threshold > 1 {
		return fmt.Errorf("matcher.threshold must be within [0, 1]")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Recovery.Ledger {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("recovery.ledger %q is not supported", c.Recovery.Ledger)
	}
	switch c.Snapshots.Backend {
	case BackendNone:
	case BackendLocal:
		if c.Snapshots.BaseDir == "" {
			return fmt.Errorf("snapshots.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Snapshots.GCSBucket == "" {
			return fmt.Errorf("snapshots.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("snapshots.backend %q is not supported", c.Snapshots.Backend)
	}
	return nil
}
