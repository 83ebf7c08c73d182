// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SITECHAT_SERVER_PORT.
const EnvPrefix = "SITECHAT"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Status      StatusConfig      `mapstructure:"status"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Publisher   PublisherConfig   `mapstructure:"publisher"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// HeadlessConfig configures the chromedp renderer used to retry empty pages.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
}

// CrawlerConfig governs the crawl pipeline.
type CrawlerConfig struct {
	Depth            int            `mapstructure:"depth"`
	ChunkSize        int            `mapstructure:"chunk_size"`
	UserAgent        string         `mapstructure:"user_agent"`
	RequestTimeout   time.Duration  `mapstructure:"request_timeout"`
	RespectRobots    bool           `mapstructure:"respect_robots"`
	RatePerSecond    float64        `mapstructure:"rate_per_second"`
	Burst            int            `mapstructure:"burst"`
	Concurrency      int            `mapstructure:"concurrency"`
	MaxPages         int            `mapstructure:"max_pages"`
	PersistEveryPage bool           `mapstructure:"persist_every_page"`
	MaxRetries       int            `mapstructure:"max_retries"`
	Headless         HeadlessConfig `mapstructure:"headless"`
}

// LocalStorageConfig points the local backend at a directory.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSStorageConfig names the bucket used by the gcs backend.
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// StorageConfig selects where domain tables and the status file live.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	GCS     GCSStorageConfig   `mapstructure:"gcs"`
}

// PostgresStatusConfig configures the postgres status backend.
type PostgresStatusConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// StatusConfig selects where the domain status table is kept.
type StatusConfig struct {
	Backend  string               `mapstructure:"backend"`
	File     string               `mapstructure:"file"`
	Postgres PostgresStatusConfig `mapstructure:"postgres"`
}

// ElasticsearchConfig configures the elasticsearch vector backend.
type ElasticsearchConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	IndexPrefix string   `mapstructure:"index_prefix"`
}

// VectorStoreConfig selects the similarity index.
type VectorStoreConfig struct {
	Backend       string              `mapstructure:"backend"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// LLMConfig configures chat and embedding models.
type LLMConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	ChatModel      string  `mapstructure:"chat_model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Temperature    float32 `mapstructure:"temperature"`
	SearchLimit    int     `mapstructure:"search_limit"`
}

// PublisherConfig selects where job lifecycle events go.
type PublisherConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// QueueConfig sizes the background crawl queue.
type QueueConfig struct {
	Buffer  int `mapstructure:"buffer"`
	Workers int `mapstructure:"workers"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load builds a Config from an optional file, a .env file and the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("crawler.depth", 2)
	v.SetDefault("crawler.chunk_size", 1024)
	v.SetDefault("crawler.user_agent", "sitechat-bot/0.1")
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.rate_per_second", 2.0)
	v.SetDefault("crawler.burst", 2)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.persist_every_page", true)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.headless.enabled", false)
	v.SetDefault("crawler.headless.max_parallel", 1)
	v.SetDefault("crawler.headless.nav_timeout", 25*time.Second)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_dir", "data")
	v.SetDefault("status.backend", "file")
	v.SetDefault("status.file", "domain_status.json")
	v.SetDefault("status.postgres.table", "domain_status")
	v.SetDefault("vectorstore.backend", "memory")
	v.SetDefault("vectorstore.elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("vectorstore.elasticsearch.index_prefix", "sitechat-")
	v.SetDefault("llm.chat_model", "gemini-2.5-flash")
	v.SetDefault("llm.embedding_model", "text-embedding-004")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.search_limit", 5)
	v.SetDefault("publisher.backend", "none")
	v.SetDefault("publisher.topic", "sitechat-jobs")
	v.SetDefault("queue.buffer", 64)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("metrics.enabled", true)
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, "|"), value)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Crawler.Depth < 0 {
		errs = append(errs, errors.New("crawler.depth must be >= 0"))
	}
	if c.Crawler.ChunkSize <= 0 {
		errs = append(errs, errors.New("crawler.chunk_size must be > 0"))
	}
	if c.Crawler.Concurrency <= 0 {
		errs = append(errs, errors.New("crawler.concurrency must be > 0"))
	}
	if c.Crawler.MaxPages < 0 {
		errs = append(errs, errors.New("crawler.max_pages must be >= 0"))
	}
	if c.Crawler.Headless.Enabled && c.Crawler.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("crawler.headless.max_parallel must be > 0 when headless is enabled"))
	}
	if err := oneOf("storage.backend", c.Storage.Backend, "local", "gcs", "memory"); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCS.Bucket == "" {
		errs = append(errs, errors.New("storage.gcs.bucket is required for the gcs backend"))
	}
	if err := oneOf("status.backend", c.Status.Backend, "file", "postgres"); err != nil {
		errs = append(errs, err)
	}
	if c.Status.Backend == "postgres" && c.Status.Postgres.DSN == "" {
		errs = append(errs, errors.New("status.postgres.dsn is required for the postgres backend"))
	}
	if err := oneOf("vectorstore.backend", c.VectorStore.Backend, "memory", "elasticsearch"); err != nil {
		errs = append(errs, err)
	}
	if c.VectorStore.Backend == "elasticsearch" && len(c.VectorStore.Elasticsearch.Addresses) == 0 {
		errs = append(errs, errors.New("vectorstore.elasticsearch.addresses is required"))
	}
	if c.LLM.SearchLimit <= 0 {
		errs = append(errs, errors.New("llm.search_limit must be > 0"))
	}
	if err := oneOf("publisher.backend", c.Publisher.Backend, "none", "memory", "pubsub"); err != nil {
		errs = append(errs, err)
	}
	if c.Publisher.Backend == "pubsub" && c.Publisher.ProjectID == "" {
		errs = append(errs, errors.New("publisher.project_id is required for the pubsub backend"))
	}
	if c.Queue.Workers <= 0 {
		errs = append(errs, errors.New("queue.workers must be > 0"))
	}
	if c.Queue.Buffer < 0 {
		errs = append(errs, errors.New("queue.buffer must be >= 0"))
	}
	return errors.Join(errs...)
}
