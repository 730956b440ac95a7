// Package config holds scraper configuration and loads it from the
// environment, an optional .env file and an optional config file.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "EGGPRICE"

// Config holds scraper configuration.
type Config struct {
	ReportURL       string        `mapstructure:"report_url"`
	UserAgent       string        `mapstructure:"user_agent"`
	GetTimeout      time.Duration `mapstructure:"get_timeout"`
	PostTimeout     time.Duration `mapstructure:"post_timeout"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CacheSize       int           `mapstructure:"cache_size"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	Verbose         bool          `mapstructure:"verbose"`
}

// DefaultConfig returns the defaults for the NECC report form.
func DefaultConfig() *Config {
	return &Config{
		ReportURL:       "https://e2necc.com/home/eggprice",
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		GetTimeout:      30 * time.Second,
		PostTimeout:     15 * time.Second,
		ListenAddr:      ":3001",
		ShutdownTimeout: 10 * time.Second,
		CacheSize:       0,
		CacheTTL:        10 * time.Minute,
		Verbose:         false,
	}
}

// Load builds a Config from defaults, the environment and, when path is
// set, a config file. A .env file in the working directory is honoured.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", slog.Any("error", err))
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("report_url", d.ReportURL)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("get_timeout", d.GetTimeout)
	v.SetDefault("post_timeout", d.PostTimeout)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("cache_size", d.CacheSize)
	v.SetDefault("cache_ttl", d.CacheTTL)
	v.SetDefault("verbose", d.Verbose)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ReportURL == "" {
		return fmt.Errorf("report URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.ReportURL)
	if err != nil {
		return fmt.Errorf("invalid report URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("report URL must include a host")
	}

	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.GetTimeout <= 0 {
		return fmt.Errorf("get timeout must be positive")
	}
	if c.PostTimeout <= 0 {
		return fmt.Errorf("post timeout must be positive")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.CacheSize > 0 && c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive when the cache is enabled")
	}

	return nil
}
