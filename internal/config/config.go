// Package config loads and validates sink configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Checkpoint backends.
const (
	CheckpointLocal  = "local"
	CheckpointMemory = "memory"
	CheckpointGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Mongo      MongoConfig      `mapstructure:"mongo"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// MongoConfig is the writer parameter bundle as read from configuration.
type MongoConfig struct {
	Host                string            `mapstructure:"host"`
	Port                uint16            `mapstructure:"port"`
	Database            string            `mapstructure:"database"`
	Collection          string            `mapstructure:"collection"`
	User                string            `mapstructure:"user"`
	Password            string            `mapstructure:"password"`
	RemoveMissingPages  bool              `mapstructure:"remove_missing_pages"`
	SeparateHeaders     bool              `mapstructure:"separate_headers"`
	MaxContentSizeBytes int               `mapstructure:"max_content_size_bytes"`
	BulkDocNumber       int               `mapstructure:"bulk_doc_number"`
	TimeZone            string            `mapstructure:"time_zone"`
	ContentPrefix       string            `mapstructure:"content_prefix"`
	CuriPrefix          string            `mapstructure:"curi_prefix"`
	ConnectTimeout      time.Duration     `mapstructure:"connect_timeout"`
	Fields              map[string]string `mapstructure:"fields"`
}

// PoolConfig bounds the writer pool.
type PoolConfig struct {
	MaxActive int           `mapstructure:"max_active"`
	MaxWait   time.Duration `mapstructure:"max_wait"`
}

// ProcessorConfig holds the host-side write gate.
type ProcessorConfig struct {
	// MaxFileSizeBytes zero means "use mongo.max_content_size_bytes".
	MaxFileSizeBytes int64 `mapstructure:"max_file_size_bytes"`
}

// CheckpointConfig selects where counters are persisted between runs.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	Name    string `mapstructure:"name"`

	// Interval between periodic checkpoints during a crawl; zero disables them.
	Interval time.Duration `mapstructure:"interval"`
}

// CrawlConfig drives the bundled colly crawler.
type CrawlConfig struct {
	Seeds            []string      `mapstructure:"seeds"`
	AllowedDomains   []string      `mapstructure:"allowed_domains"`
	// SkipWriteDomains are crawled for links but never written.
	SkipWriteDomains []string      `mapstructure:"skip_write_domains"`
	MaxDepth         int           `mapstructure:"max_depth"`
	Parallelism      int           `mapstructure:"parallelism"`
	UserAgent        string        `mapstructure:"user_agent"`
	Delay            time.Duration `mapstructure:"delay"`
	Timeout          time.Duration `mapstructure:"timeout"`
	IgnoreRobots     bool          `mapstructure:"ignore_robots"`
	// DedupCapacity caps the payload digests kept for duplicate detection.
	DedupCapacity    int           `mapstructure:"dedup_capacity"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONGOSINK")
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
	// Env overrides only apply to keys viper knows about, so every key
	// gets a default even when it is empty.
	v.SetDefault("mongo.host", "")
	v.SetDefault("mongo.port", 27017)
	v.SetDefault("mongo.database", "")
	v.SetDefault("mongo.collection", "")
	v.SetDefault("mongo.user", "")
	v.SetDefault("mongo.password", "")
	v.SetDefault("mongo.remove_missing_pages", true)
	v.SetDefault("mongo.separate_headers", true)
	v.SetDefault("mongo.max_content_size_bytes", 16*1024*1024)
	v.SetDefault("mongo.bulk_doc_number", 100)
	v.SetDefault("mongo.time_zone", "")
	v.SetDefault("mongo.content_prefix", "content")
	v.SetDefault("mongo.curi_prefix", "curi")
	v.SetDefault("mongo.connect_timeout", "10s")
	v.SetDefault("pool.max_active", 5)
	v.SetDefault("pool.max_wait", "500ms")
	v.SetDefault("processor.max_file_size_bytes", 0)
	v.SetDefault("checkpoint.backend", CheckpointLocal)
	v.SetDefault("checkpoint.dir", "data/checkpoints")
	v.SetDefault("checkpoint.bucket", "")
	v.SetDefault("checkpoint.prefix", "checkpoints")
	v.SetDefault("checkpoint.name", "mongodb-writer.json")
	v.SetDefault("checkpoint.interval", "1m")
	v.SetDefault("crawl.seeds", []string{})
	v.SetDefault("crawl.allowed_domains", []string{})
	v.SetDefault("crawl.skip_write_domains", []string{})
	v.SetDefault("crawl.max_depth", 1)
	v.SetDefault("crawl.parallelism", 4)
	v.SetDefault("crawl.user_agent", "heritrix-mongodb-writer/0.1")
	v.SetDefault("crawl.delay", "1s")
	v.SetDefault("crawl.timeout", "15s")
	v.SetDefault("crawl.ignore_robots", false)
	v.SetDefault("crawl.dedup_capacity", 100000)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Pool.MaxActive <= 0 {
		return fmt.Errorf("pool.max_active must be > 0")
	}
	if c.Pool.MaxWait < 0 {
		return fmt.Errorf("pool.max_wait must be >= 0")
	}
	if c.Processor.MaxFileSizeBytes < 0 {
		return fmt.Errorf("processor.max_file_size_bytes must be >= 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Checkpoint.Backend {
	case CheckpointLocal:
		if strings.TrimSpace(c.Checkpoint.Dir) == "" {
			return fmt.Errorf("checkpoint.dir must be set for the local backend")
		}
	case CheckpointGCS:
		if strings.TrimSpace(c.Checkpoint.Bucket) == "" {
			return fmt.Errorf("checkpoint.bucket must be set for the gcs backend")
		}
	case CheckpointMemory:
	default:
		return fmt.Errorf("checkpoint.backend must be one of local, memory, gcs; got %q", c.Checkpoint.Backend)
	}
	if c.Crawl.Parallelism <= 0 {
		return fmt.Errorf("crawl.parallelism must be > 0")
	}
	if c.Crawl.DedupCapacity <= 0 {
		return fmt.Errorf("crawl.dedup_capacity must be > 0")
	}
	return nil
}

// MaxFileSizeBytes returns the processor gate, falling back to the writer cap.
func (c Config) MaxFileSizeBytes() int64 {
	if c.Processor.MaxFileSizeBytes > 0 {
		return c.Processor.MaxFileSizeBytes
	}
	return int64(c.Mongo.MaxContentSizeBytes)
}
