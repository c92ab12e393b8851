// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Parser     ParserConfig     `mapstructure:"parser"`
	Output     OutputConfig     `mapstructure:"output"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Flatten    FlattenConfig    `mapstructure:"flatten"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Status     StatusConfig     `mapstructure:"status"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CatalogConfig locates the catalog file and the mirror it describes.
type CatalogConfig struct {
	Path    string `mapstructure:"path"`
	BaseURL string `mapstructure:"base_url"`
}

// CrawlerConfig governs fetching, politeness and pagination.
type CrawlerConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	MaxPages       int           `mapstructure:"max_pages"`
	PageParam      string        `mapstructure:"page_param"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
}

// ParserConfig holds the listing page selectors.
type ParserConfig struct {
	CardSelector      string `mapstructure:"card_selector"`
	TitleSelector     string `mapstructure:"title_selector"`
	SubtitleSelector  string `mapstructure:"subtitle_selector"`
	NextSelector      string `mapstructure:"next_selector"`
	SoundMarker       string `mapstructure:"sound_marker"`
	SoundIconSelector string `mapstructure:"sound_icon_selector"`
	StripURLPrefix    string `mapstructure:"strip_url_prefix"`
}

// OutputConfig sets where collection documents are written.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// CheckpointConfig selects and configures the checkpoint backend.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// FlattenConfig controls chunking.
type FlattenConfig struct {
	ChunkSize int    `mapstructure:"chunk_size"`
	Name      string `mapstructure:"name"`
}

// StorageConfig selects where flattened chunks are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for flatten notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether notifications should be published to Pub/Sub.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// StatusConfig controls the optional status server.
type StatusConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Checkpoint and storage backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendMemory   = "memory"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
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
	v.SetDefault("catalog.path", "geocities_config.json")
	v.SetDefault("catalog.base_url", "https://geocities.restorativland.org")
	v.SetDefault("crawler.user_agent", "hood-archiver/0.1")
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.min_interval", time.Second)
	v.SetDefault("crawler.max_pages", 500)
	v.SetDefault("crawler.page_param", "page")
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.backoff_initial", 500*time.Millisecond)
	v.SetDefault("crawler.backoff_max", 10*time.Second)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("parser.card_selector", "div.card")
	v.SetDefault("parser.title_selector", "div.card-title a")
	v.SetDefault("parser.subtitle_selector", "div.card-subtitle")
	v.SetDefault("parser.next_selector", `a[rel="next"], a.next`)
	v.SetDefault("parser.sound_marker", "🔊")
	v.SetDefault("parser.sound_icon_selector", `img[src*="sound"]`)
	v.SetDefault("parser.strip_url_prefix", "www.geocities.com/")
	v.SetDefault("output.dir", "geocities_data")
	v.SetDefault("checkpoint.backend", BackendFile)
	v.SetDefault("checkpoint.path", "geocities_data/.checkpoint.json")
	v.SetDefault("checkpoint.dsn", "")
	v.SetDefault("checkpoint.table", "crawl_checkpoints")
	v.SetDefault("flatten.chunk_size", 10000)
	v.SetDefault("flatten.name", "geocities_flattened")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", "flattened")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("status.listen_addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MinInterval < 0 {
		return fmt.Errorf("crawler.min_interval must be >= 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Flatten.ChunkSize <= 0 {
		return fmt.Errorf("flatten.chunk_size must be > 0")
	}
	if c.Flatten.Name == "" {
		return fmt.Errorf("flatten.name is required")
	}
	switch c.Checkpoint.Backend {
	case BackendFile:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path is required for the file backend")
		}
		if shadowsDocument(c.Output.Dir, c.Checkpoint.Path) {
			return fmt.Errorf("checkpoint.path %s would be read back as a collection document; use a dotfile or another directory", c.Checkpoint.Path)
		}
	case BackendPostgres:
		if c.Checkpoint.DSN == "" {
			return fmt.Errorf("checkpoint.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend %q is not supported", c.Checkpoint.Backend)
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// shadowsDocument reports whether a checkpoint file would sit in the output
// directory under a name that looks like a collection document.
func shadowsDocument(outputDir, checkpointPath string) bool {
	base := filepath.Base(checkpointPath)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".json") {
		return false
	}
	return filepath.Clean(filepath.Dir(checkpointPath)) == filepath.Clean(outputDir)
}
