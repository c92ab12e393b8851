package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Catalog.Path != "geocities_config.json" {
		t.Fatalf("unexpected catalog path %q", cfg.Catalog.Path)
	}
	if cfg.Crawler.MinInterval != time.Second {
		t.Fatalf("expected 1s min interval, got %v", cfg.Crawler.MinInterval)
	}
	if cfg.Crawler.MaxPages != 500 || cfg.Crawler.PageParam != "page" {
		t.Fatalf("unexpected pagination defaults: %+v", cfg.Crawler)
	}
	if cfg.Flatten.ChunkSize != 10000 || cfg.Flatten.Name != "geocities_flattened" {
		t.Fatalf("unexpected flatten defaults: %+v", cfg.Flatten)
	}
	if cfg.Checkpoint.Backend != BackendFile || cfg.Storage.Backend != BackendLocal {
		t.Fatalf("unexpected backends: %s / %s", cfg.Checkpoint.Backend, cfg.Storage.Backend)
	}
	if cfg.Parser.SoundMarker != "🔊" {
		t.Fatalf("unexpected sound marker %q", cfg.Parser.SoundMarker)
	}
	if cfg.PubSub.Enabled() {
		t.Fatal("expected pubsub to be disabled by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
catalog:
  path: hoods.json
crawler:
  user_agent: archive-agent
  min_interval: 2s
  max_pages: 5
  max_retries: 1
  backoff_initial: 100ms
  respect_robots: false
parser:
  next_selector: "li.next a"
checkpoint:
  backend: postgres
  dsn: postgres://localhost/archiver
flatten:
  chunk_size: 250
storage:
  backend: gcs
  gcs_bucket: archive-bucket
  prefix: flat
pubsub:
  project_id: proj
  topic: flattened
logging:
  development: false
  level: warn
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Catalog.Path != "hoods.json" {
		t.Fatalf("expected catalog override, got %q", cfg.Catalog.Path)
	}
	if cfg.Crawler.UserAgent != "archive-agent" || cfg.Crawler.RespectRobots {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Crawler.MinInterval != 2*time.Second || cfg.Crawler.BackoffInitial != 100*time.Millisecond {
		t.Fatalf("expected duration overrides: %+v", cfg.Crawler)
	}
	if cfg.Crawler.MaxPages != 5 || cfg.Crawler.MaxRetries != 1 {
		t.Fatalf("expected numeric overrides: %+v", cfg.Crawler)
	}
	if cfg.Parser.NextSelector != "li.next a" || cfg.Parser.CardSelector != "div.card" {
		t.Fatalf("expected parser override with defaults kept: %+v", cfg.Parser)
	}
	if cfg.Checkpoint.Backend != BackendPostgres || cfg.Checkpoint.Table != "crawl_checkpoints" {
		t.Fatalf("unexpected checkpoint config: %+v", cfg.Checkpoint)
	}
	if cfg.Flatten.ChunkSize != 250 {
		t.Fatalf("expected chunk size 250, got %d", cfg.Flatten.ChunkSize)
	}
	if cfg.Storage.Backend != BackendGCS || cfg.Storage.GCSBucket != "archive-bucket" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if !cfg.PubSub.Enabled() {
		t.Fatal("expected pubsub to be enabled")
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARCHIVER_FLATTEN_CHUNK_SIZE", "42")
	t.Setenv("ARCHIVER_OUTPUT_DIR", "elsewhere")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Flatten.ChunkSize != 42 {
		t.Fatalf("expected env chunk size 42, got %d", cfg.Flatten.ChunkSize)
	}
	if cfg.Output.Dir != "elsewhere" {
		t.Fatalf("expected env output dir, got %q", cfg.Output.Dir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Crawler:    CrawlerConfig{MaxPages: 10, RequestTimeout: time.Second},
		Output:     OutputConfig{Dir: "out"},
		Checkpoint: CheckpointConfig{Backend: BackendFile, Path: "out/.checkpoint.json"},
		Flatten:    FlattenConfig{ChunkSize: 10, Name: "flat"},
		Storage:    StorageConfig{Backend: BackendLocal, BaseDir: "flat"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid max pages", func(c *Config) { c.Crawler.MaxPages = 0 }, "crawler.max_pages"},
		{"invalid timeout", func(c *Config) { c.Crawler.RequestTimeout = 0 }, "crawler.request_timeout"},
		{"negative retries", func(c *Config) { c.Crawler.MaxRetries = -1 }, "crawler.max_retries"},
		{"missing output dir", func(c *Config) { c.Output.Dir = "" }, "output.dir"},
		{"invalid chunk size", func(c *Config) { c.Flatten.ChunkSize = 0 }, "flatten.chunk_size"},
		{"postgres without dsn", func(c *Config) { c.Checkpoint.Backend = BackendPostgres }, "checkpoint.dsn"},
		{"unknown checkpoint backend", func(c *Config) { c.Checkpoint.Backend = "redis" }, "checkpoint.backend"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.gcs_bucket"},
		{"unknown storage backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"half pubsub", func(c *Config) { c.PubSub.Topic = "t" }, "pubsub.project_id"},
		{"checkpoint named like a document", func(c *Config) { c.Checkpoint.Path = "out/checkpoint.json" }, "checkpoint.path"},
		{"checkpoint in uncleaned output dir", func(c *Config) {
			c.Output.Dir = "./out/"
			c.Checkpoint.Path = "out/state.json"
		}, "checkpoint.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestConfigValidateCheckpointPlacement(t *testing.T) {
	t.Parallel()

	for _, path := range []string{
		"out/.checkpoint.json",
		"state/checkpoint.json",
		"out/checkpoint.db",
		filepath.Join("out", "sub", "checkpoint.json"),
	} {
		cfg := Config{
			Crawler:    CrawlerConfig{MaxPages: 10, RequestTimeout: time.Second},
			Output:     OutputConfig{Dir: "out"},
			Checkpoint: CheckpointConfig{Backend: BackendFile, Path: path},
			Flatten:    FlattenConfig{ChunkSize: 10, Name: "flat"},
			Storage:    StorageConfig{Backend: BackendLocal, BaseDir: "flat"},
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("checkpoint.path %q should be accepted: %v", path, err)
		}
	}
}
