// Package config loads application configuration from an optional file, a .env file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Ingest       IngestConfig       `mapstructure:"ingest"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
}

// DatabaseConfig contains the SQLite file location
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig contains the per-day CSV cache location
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// ArchiveConfig contains the remote archive settings
type ArchiveConfig struct {
	BaseURL string        `mapstructure:"baseURL"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CatalogConfig contains the live sensor directory settings
type CatalogConfig struct {
	URL      string `mapstructure:"url"`
	Schedule string `mapstructure:"schedule"`
}

// ConnectivityConfig contains the reachability check settings
type ConnectivityConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// IngestConfig contains year ingestion settings
type IngestConfig struct {
	TypeSearchTimeout time.Duration `mapstructure:"typeSearchTimeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// TelegramConfig contains the bot token
type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// OpenAIConfig contains the optional free-text assistant settings
type OpenAIConfig struct {
	APIKey string `mapstructure:"apiKey"`
}

// LoadConfig loads configuration. An empty configPath looks for sensors.yml in the
// working directory; a missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	v := viper.New()

	v.SetDefault("database.path", "data/sensors.db")
	v.SetDefault("cache.dir", "cache/sensors")
	v.SetDefault("archive.baseURL", "https://archive.sensor.community")
	v.SetDefault("archive.timeout", "30s")
	v.SetDefault("catalog.url", "https://data.sensor.community/static/v2/data.json")
	v.SetDefault("catalog.schedule", "0 3 * * *")
	v.SetDefault("connectivity.url", "https://archive.sensor.community/")
	v.SetDefault("connectivity.timeout", "10s")
	v.SetDefault("ingest.typeSearchTimeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9102")
	v.SetDefault("telegram.token", "")
	v.SetDefault("openai.apiKey", "")

	v.SetEnvPrefix("SENSORS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Well-known variable names used by the bot deployment
	if err := v.BindEnv("telegram.token", "SENSORS_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind telegram token: %w", err)
	}
	if err := v.BindEnv("openai.apiKey", "SENSORS_OPENAI_APIKEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind openai key: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sensors")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if c.Archive.BaseURL == "" {
		return fmt.Errorf("archive.baseURL is required")
	}
	if c.Archive.Timeout <= 0 {
		return fmt.Errorf("archive.timeout must be positive: %v", c.Archive.Timeout)
	}
	if c.Connectivity.Timeout <= 0 {
		return fmt.Errorf("connectivity.timeout must be positive: %v", c.Connectivity.Timeout)
	}
	if c.Ingest.TypeSearchTimeout < 0 {
		return fmt.Errorf("ingest.typeSearchTimeout cannot be negative")
	}
	return nil
}
