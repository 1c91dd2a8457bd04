// Package config loads the service configuration from YAML with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete service configuration.
type Config struct {
	Archive  ArchiveConfig  `yaml:"archive"`
	Provider ProviderConfig `yaml:"provider"`
	Enricher EnricherConfig `yaml:"enricher"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ArchiveConfig configures the crawl of the archive listing tree.
type ArchiveConfig struct {
	BaseURL     string   `yaml:"base_url"`
	Concurrency int      `yaml:"concurrency"`
	BatchSize   int      `yaml:"batch_size"`
	Timeout     Duration `yaml:"timeout"`
}

// ProviderConfig configures the metadata provider. Empty credentials put
// the pipeline in scrape-only mode.
type ProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	APIURL       string `yaml:"api_url"`
}

// EnricherConfig configures the enrichment worker pool.
type EnricherConfig struct {
	Workers     int      `yaml:"workers"`
	LookupBatch int      `yaml:"lookup_batch"`
	WorkerDelay Duration `yaml:"worker_delay"`
}

// StorageConfig locates the on-disk state.
type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`
	DBPath    string `yaml:"db_path"`
	IndexPath string `yaml:"index_path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	AdminKey string `yaml:"admin_key"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration with every knob at its stock value.
func Default() *Config {
	return &Config{
		Archive: ArchiveConfig{
			BaseURL:     "https://myrient.erista.me/files/",
			Concurrency: 20,
			BatchSize:   500,
			Timeout:     Duration(30 * time.Second),
		},
		Enricher: EnricherConfig{
			Workers:     4,
			LookupBatch: 10,
			WorkerDelay: Duration(time.Second),
		},
		Storage: StorageConfig{
			DataDir:   "data",
			DBPath:    filepath.Join("data", "catalog.db"),
			IndexPath: filepath.Join("data", "search.bleve"),
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is empty, the file is optional and read from config.yaml), then
// environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	optional := path == ""
	if optional {
		path = "config.yaml"
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && optional:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets the environment override the file. These are the knobs an
// operator changes per deployment without editing YAML.
func (c *Config) applyEnv() {
	setEnv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setEnv(&c.Archive.BaseURL, "MYRIENT_BASE_URL")
	setEnv(&c.Provider.ClientID, "IGDB_CLIENT_ID")
	setEnv(&c.Provider.ClientSecret, "IGDB_CLIENT_SECRET")
	setEnv(&c.Storage.DataDir, "MYRIENT_DATA_DIR")
	setEnv(&c.Storage.DBPath, "MYRIENT_DB_PATH")
	setEnv(&c.Storage.IndexPath, "MYRIENT_INDEX_PATH")
	setEnv(&c.Server.Addr, "MYRIENT_ADDR")
	setEnv(&c.Server.AdminKey, "MYRIENT_ADMIN_KEY")
	setEnv(&c.Logging.Level, "MYRIENT_LOG_LEVEL")
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Archive.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("archive.base_url %q is not an absolute url", c.Archive.BaseURL)
	}
	if c.Archive.Concurrency <= 0 {
		return fmt.Errorf("archive.concurrency must be positive")
	}
	if c.Archive.BatchSize <= 0 {
		return fmt.Errorf("archive.batch_size must be positive")
	}
	if c.Enricher.Workers <= 0 {
		return fmt.Errorf("enricher.workers must be positive")
	}
	if c.Enricher.LookupBatch <= 0 || c.Enricher.LookupBatch > 10 {
		return fmt.Errorf("enricher.lookup_batch must be between 1 and 10")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	return nil
}

// SchedulePath is where the scheduler persists its cron config.
func (c *Config) SchedulePath() string {
	return filepath.Join(c.Storage.DataDir, "schedule.json")
}
