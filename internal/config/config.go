// Package config provides centralized configuration for the phishfindr pipeline.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the master configuration struct for the collector process.
type Config struct {
	Feed       FeedConfig       `mapstructure:"feed"`
	File       FileSinkConfig   `mapstructure:"file"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// FeedConfig holds audit feed connection and polling configuration.
type FeedConfig struct {
	TenantID     string        `mapstructure:"tenant_id"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	LoginURL     string        `mapstructure:"login_url"`
	APIURL       string        `mapstructure:"api_url"`
	Scope        string        `mapstructure:"scope"`
	ContentTypes []string      `mapstructure:"content_types"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// FileSinkConfig holds file sink configuration.
type FileSinkConfig struct {
	Path string `mapstructure:"path"`
}

// OpenSearchConfig holds search sink configuration.
type OpenSearchConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Insecure    bool   `mapstructure:"insecure"`
	IndexPrefix string `mapstructure:"index_prefix"`
}

// PostgresConfig holds relational sink configuration.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the optional Prometheus listener configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TokenURL returns the OAuth2 token endpoint for the configured tenant.
func (f FeedConfig) TokenURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(f.LoginURL, "/"), f.TenantID)
}

// BaseURL returns the activity feed root for the configured tenant.
func (f FeedConfig) BaseURL() string {
	return fmt.Sprintf("%s/api/v1.0/%s/activity/feed", strings.TrimRight(f.APIURL, "/"), f.TenantID)
}

// ConnString returns a postgres connection URL.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// Load reads configuration from the given file (optional) and environment
// variables. Environment variables use underscores for nesting, e.g.
// FEED_CLIENT_SECRET overrides feed.client_secret.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		if dir := os.Getenv("PHISHFINDR_CONFIG_DIR"); dir != "" {
			configPath = fmt.Sprintf("%s/config.yaml", dir)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// Config file not found - continue with defaults and env vars
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ValidateFeed checks that the feed can be reached at startup. A missing
// credential aborts the process before the first poll cycle.
func (c *Config) ValidateFeed() error {
	if c.Feed.TenantID == "" {
		return fmt.Errorf("feed.tenant_id is required")
	}
	if c.Feed.ClientID == "" {
		return fmt.Errorf("feed.client_id is required")
	}
	if c.Feed.ClientSecret == "" {
		return fmt.Errorf("feed.client_secret is required")
	}
	if len(c.Feed.ContentTypes) == 0 {
		return fmt.Errorf("feed.content_types must not be empty")
	}
	if c.Feed.Interval <= 0 {
		return fmt.Errorf("feed.interval must be positive")
	}
	return nil
}

// ValidateSink checks the configuration for the selected sink kind.
func (c *Config) ValidateSink(kind string) error {
	switch kind {
	case "file":
		if c.File.Path == "" {
			return fmt.Errorf("file.path is required for the file sink")
		}
	case "search":
		if c.OpenSearch.URL == "" {
			return fmt.Errorf("opensearch.url is required for the search sink")
		}
		if c.OpenSearch.IndexPrefix == "" {
			return fmt.Errorf("opensearch.index_prefix is required for the search sink")
		}
	case "relational":
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("postgres.host and postgres.database are required for the relational sink")
		}
	default:
		return fmt.Errorf("unknown sink %q (expected file, search or relational)", kind)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Feed defaults. The credentials default to empty so viper knows the
	// keys exist; without a registered key, AutomaticEnv never consults
	// the environment and env-only startup loses them.
	v.SetDefault("feed.tenant_id", "")
	v.SetDefault("feed.client_id", "")
	v.SetDefault("feed.client_secret", "")
	v.SetDefault("feed.login_url", "https://login.microsoftonline.com")
	v.SetDefault("feed.api_url", "https://manage.office.com")
	v.SetDefault("feed.scope", "https://manage.office.com/.default")
	v.SetDefault("feed.content_types", []string{"Audit.AzureActiveDirectory", "Audit.Exchange"})
	v.SetDefault("feed.interval", "300s")
	v.SetDefault("feed.timeout", "30s")

	// File sink defaults
	v.SetDefault("file.path", "events/events.jsonl")

	// OpenSearch defaults
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.index_prefix", "phishfindr-events")

	// Postgres defaults
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "phishfindr")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", "disable")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9109")
}
