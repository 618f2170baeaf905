// Package config loads and validates metalink configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backend selectors.
const (
	CacheBackendNone     = "none"
	CacheBackendMemory   = "memory"
	CacheBackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Extract ExtractConfig `mapstructure:"extract"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ExtractConfig carries the server-side defaults applied to extraction
// requests that leave an option unset.
type ExtractConfig struct {
	MaxRedirects   int    `mapstructure:"max_redirects"`
	MaxBodyBytes   int64  `mapstructure:"max_body_bytes"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	StopAfterHead  bool   `mapstructure:"stop_after_head"`
	EnableOEmbed   bool   `mapstructure:"enable_oembed"`
	EnableManifest bool   `mapstructure:"enable_manifest"`
	MaxImages      int    `mapstructure:"max_images"`
	MaxIcons       int    `mapstructure:"max_icons"`
	MaxVideos      int    `mapstructure:"max_videos"`
	MaxAudios      int    `mapstructure:"max_audios"`
	MaxKeywords    int    `mapstructure:"max_keywords"`
	UserAgent      string `mapstructure:"user_agent"`
	ProxyTemplate  string `mapstructure:"proxy_template"`
}

// BatchConfig bounds batch extraction requests.
type BatchConfig struct {
	MaxConcurrency     int `mapstructure:"max_concurrency"`
	DefaultConcurrency int `mapstructure:"default_concurrency"`
	MaxURLs            int `mapstructure:"max_urls"`
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	Backend           string `mapstructure:"backend"`
	DSN               string `mapstructure:"dsn"`
	Table             string `mapstructure:"table"`
	MaxEntries        int    `mapstructure:"max_entries"`
	DefaultTTLSeconds int    `mapstructure:"default_ttl_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("METALINK")
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
	v.SetDefault("extract.max_redirects", 5)
	v.SetDefault("extract.max_body_bytes", 2<<20)
	v.SetDefault("extract.timeout_seconds", 10)
	v.SetDefault("extract.stop_after_head", true)
	v.SetDefault("extract.enable_oembed", false)
	v.SetDefault("extract.enable_manifest", false)
	v.SetDefault("extract.max_images", 8)
	v.SetDefault("extract.max_icons", 8)
	v.SetDefault("extract.max_videos", 4)
	v.SetDefault("extract.max_audios", 4)
	v.SetDefault("extract.max_keywords", 16)
	v.SetDefault("batch.max_concurrency", 16)
	v.SetDefault("batch.default_concurrency", 4)
	v.SetDefault("batch.max_urls", 50)
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.table", "metalink_cache")
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.default_ttl_seconds", 3600)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Extract.TimeoutSeconds <= 0 {
		return fmt.Errorf("extract.timeout_seconds must be > 0")
	}
	if c.Extract.MaxRedirects <= 0 {
		return fmt.Errorf("extract.max_redirects must be > 0")
	}
	if c.Batch.MaxConcurrency <= 0 || c.Batch.DefaultConcurrency <= 0 {
		return fmt.Errorf("batch concurrency limits must be > 0")
	}
	if c.Batch.DefaultConcurrency > c.Batch.MaxConcurrency {
		return fmt.Errorf("batch.default_concurrency must not exceed batch.max_concurrency")
	}
	switch c.Cache.Backend {
	case CacheBackendNone, CacheBackendMemory:
	case CacheBackendPostgres:
		if c.Cache.DSN == "" {
			return fmt.Errorf("cache.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ExtractTimeout converts the configured timeout into a duration.
func (c Config) ExtractTimeout() time.Duration {
	return time.Duration(c.Extract.TimeoutSeconds) * time.Second
}

// CacheTTL converts the configured default TTL into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.DefaultTTLSeconds) * time.Second
}
