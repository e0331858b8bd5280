// Package config holds strata configuration: typed defaults, file and
// environment loading through viper, and startup validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all strata configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Search    SearchConfig    `mapstructure:"search"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"` // empty resolves to the default at runtime
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type FreshnessConfig struct {
	FreshThreshold  time.Duration `mapstructure:"fresh_threshold"`
	RecentThreshold time.Duration `mapstructure:"recent_threshold"`
	StaleThreshold  time.Duration `mapstructure:"stale_threshold"`
}

type SearchConfig struct {
	MaxResults int `mapstructure:"max_results"`
}

type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // "openai" or "hashing"
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"` // "dir" or "s3"
	Dir       string `mapstructure:"dir"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type RetentionConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule"` // cron expression
	MaxAge    time.Duration `mapstructure:"max_age"`
	BatchSize int           `mapstructure:"batch_size"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38100,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     5 * time.Minute,
		},
		Freshness: FreshnessConfig{
			FreshThreshold:  time.Hour,
			RecentThreshold: 24 * time.Hour,
			StaleThreshold:  7 * 24 * time.Hour,
		},
		Search: SearchConfig{
			MaxResults: 50,
		},
		Embedding: EmbeddingConfig{
			Provider:   "hashing",
			Dimensions: 256,
		},
		Archive: ArchiveConfig{
			Backend: "dir",
		},
		Retention: RetentionConfig{
			Enabled:   false,
			Schedule:  "0 3 * * *",
			MaxAge:    90 * 24 * time.Hour,
			BatchSize: 100,
		},
	}
}

// Load reads configuration from the given file (optional), from
// ~/.strata/config.yaml, and from STRATA_* environment variables, layered
// over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("$HOME/.strata")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file falls back to defaults; an explicit path
		// that cannot be read is an error.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && path != "" {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.bind", cfg.Server.Bind)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("cache.enabled", cfg.Cache.Enabled)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("freshness.fresh_threshold", cfg.Freshness.FreshThreshold)
	v.SetDefault("freshness.recent_threshold", cfg.Freshness.RecentThreshold)
	v.SetDefault("freshness.stale_threshold", cfg.Freshness.StaleThreshold)
	v.SetDefault("search.max_results", cfg.Search.MaxResults)
	v.SetDefault("embedding.provider", cfg.Embedding.Provider)
	v.SetDefault("embedding.dimensions", cfg.Embedding.Dimensions)
	v.SetDefault("archive.backend", cfg.Archive.Backend)
	v.SetDefault("retention.enabled", cfg.Retention.Enabled)
	v.SetDefault("retention.schedule", cfg.Retention.Schedule)
	v.SetDefault("retention.max_age", cfg.Retention.MaxAge)
	v.SetDefault("retention.batch_size", cfg.Retention.BatchSize)
}

// Validate checks internal consistency. Pure: no filesystem or network.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when the cache is enabled")
	}
	f := c.Freshness
	if f.FreshThreshold <= 0 || f.RecentThreshold <= f.FreshThreshold || f.StaleThreshold <= f.RecentThreshold {
		return fmt.Errorf("freshness thresholds must be positive and strictly ascending")
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive")
	}
	switch c.Embedding.Provider {
	case "openai", "hashing", "":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	switch c.Archive.Backend {
	case "dir", "s3", "":
	default:
		return fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}
	if c.Archive.Backend == "s3" && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		return fmt.Errorf("archive backend s3 requires endpoint and bucket")
	}
	if c.Retention.Enabled && c.Retention.BatchSize <= 0 {
		return fmt.Errorf("retention.batch_size must be positive")
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
