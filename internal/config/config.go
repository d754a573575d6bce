// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by the dedup and sink sections.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendJSONL    = "jsonl"
	BackendGCS      = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Input      Input            `mapstructure:"input"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the worker pool, browser sessions and stage caps.
type CrawlerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	Proxies         []string      `mapstructure:"proxies"`
	SessionMaxUsage int           `mapstructure:"session_max_usage"`
	Headless        bool          `mapstructure:"headless"`
	ChromePath      string        `mapstructure:"chrome_path"`

	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout"`

	TileSizeKm float64 `mapstructure:"tile_size_km"`
	Zoom       int     `mapstructure:"zoom"`
	MaxTiles   int     `mapstructure:"max_tiles"`

	SearchScrollIterations int           `mapstructure:"search_scroll_iterations"`
	ReviewScrollIterations int           `mapstructure:"review_scroll_iterations"`
	StagnationPasses       int           `mapstructure:"stagnation_passes"`
	ReviewFlushSize        int           `mapstructure:"review_flush_size"`
	ReviewsPerRequest      int           `mapstructure:"reviews_per_request"`
	ScrollDelay            time.Duration `mapstructure:"scroll_delay"`
	ScrollJitter           time.Duration `mapstructure:"scroll_jitter"`
	PanelDelay             time.Duration `mapstructure:"panel_delay"`
}

// DedupConfig selects the persistent store behind the dedup sets.
type DedupConfig struct {
	Backend        string `mapstructure:"backend"`
	PlaceCapacity  int    `mapstructure:"place_capacity"`
	ReviewCapacity int    `mapstructure:"review_capacity"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
	PostgresTable  string `mapstructure:"postgres_table"`
}

// SinkConfig selects where records are written.
type SinkConfig struct {
	Backend      string `mapstructure:"backend"`
	Dir          string `mapstructure:"dir"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	FlushRecords int    `mapstructure:"flush_records"`
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
}

// EnrichmentConfig controls website fetching for enrichment.
type EnrichmentConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxContactPages   int           `mapstructure:"max_contact_pages"`
	MaxLeadPages      int           `mapstructure:"max_lead_pages"`
}

// PubSubConfig names where the run summary is published; empty disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status server. Port 0 disables it.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.backoff_initial", "1s")
	v.SetDefault("crawler.backoff_max", "30s")
	v.SetDefault("crawler.request_timeout", "10m")
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.proxies", []string{})
	v.SetDefault("crawler.session_max_usage", 50)
	v.SetDefault("crawler.headless", true)
	v.SetDefault("crawler.chrome_path", "")
	v.SetDefault("crawler.navigation_timeout", "60s")
	v.SetDefault("crawler.action_timeout", "15s")
	v.SetDefault("crawler.wait_timeout", "30s")
	v.SetDefault("crawler.tile_size_km", 2.5)
	v.SetDefault("crawler.zoom", 15)
	v.SetDefault("crawler.max_tiles", 400)
	v.SetDefault("crawler.search_scroll_iterations", 50)
	v.SetDefault("crawler.review_scroll_iterations", 100)
	v.SetDefault("crawler.stagnation_passes", 3)
	v.SetDefault("crawler.review_flush_size", 100)
	v.SetDefault("crawler.reviews_per_request", 5000)
	v.SetDefault("crawler.scroll_delay", "500ms")
	v.SetDefault("crawler.scroll_jitter", "500ms")
	v.SetDefault("crawler.panel_delay", "1s")

	v.SetDefault("dedup.backend", BackendSQLite)
	v.SetDefault("dedup.place_capacity", 50_000)
	v.SetDefault("dedup.review_capacity", 100_000)
	v.SetDefault("dedup.sqlite_path", "data/dedup.db")
	v.SetDefault("dedup.postgres_dsn", "")
	v.SetDefault("dedup.postgres_table", "dedup_keys")

	v.SetDefault("sink.backend", BackendJSONL)
	v.SetDefault("sink.dir", "data/output")
	v.SetDefault("sink.bucket", "")
	v.SetDefault("sink.prefix", "placescrawler")
	v.SetDefault("sink.flush_records", 500)
	v.SetDefault("sink.dsn", "")
	v.SetDefault("sink.table", "crawl_records")
	v.SetDefault("sink.max_conns", 4)

	v.SetDefault("enrichment.timeout", "15s")
	v.SetDefault("enrichment.user_agent", "placescrawler/0.1")
	v.SetDefault("enrichment.respect_robots", true)
	v.SetDefault("enrichment.requests_per_second", 1.0)
	v.SetDefault("enrichment.burst", 1)
	v.SetDefault("enrichment.max_contact_pages", 3)
	v.SetDefault("enrichment.max_lead_pages", 3)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Crawler.Concurrency <= 0:
		return errors.New("crawler.concurrency must be > 0")
	case c.Crawler.MaxRetries < 0:
		return errors.New("crawler.max_retries must be >= 0")
	case c.Crawler.TileSizeKm <= 0:
		return errors.New("crawler.tile_size_km must be > 0")
	case c.Crawler.MaxTiles <= 0:
		return errors.New("crawler.max_tiles must be > 0")
	case c.Crawler.Zoom < 1 || c.Crawler.Zoom > 21:
		return errors.New("crawler.zoom must be between 1 and 21")
	case c.Server.Port < 0:
		return errors.New("server.port must be >= 0")
	case c.Enrichment.RequestsPerSecond <= 0:
		return errors.New("enrichment.requests_per_second must be > 0")
	}

	switch c.Dedup.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Dedup.SQLitePath == "" {
			return errors.New("dedup.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Dedup.PostgresDSN == "" {
			return errors.New("dedup.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("dedup.backend %q is not one of memory, sqlite, postgres", c.Dedup.Backend)
	}

	switch c.Sink.Backend {
	case BackendMemory:
	case BackendJSONL:
		if c.Sink.Dir == "" {
			return errors.New("sink.dir is required for the jsonl backend")
		}
	case BackendPostgres:
		if c.Sink.DSN == "" {
			return errors.New("sink.dsn is required for the postgres backend")
		}
	case BackendGCS:
		if c.Sink.Bucket == "" {
			return errors.New("sink.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("sink.backend %q is not one of memory, jsonl, postgres, gcs", c.Sink.Backend)
	}

	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}
