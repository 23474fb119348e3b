// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	DBURL            string        `mapstructure:"DB_URL"`
	GithubToken      string        `mapstructure:"GITHUB_TOKEN"`
	GithubGraphQLURL string        `mapstructure:"GITHUB_GRAPHQL_URL"`
	HTTPListenAddr   string        `mapstructure:"HTTP_LISTEN_ADDR"`
	TargetRepoCount  int           `mapstructure:"TARGET_REPO_COUNT"`
	CrawlConcurrency int           `mapstructure:"CRAWL_CONCURRENCY"`
	BatchSize        int           `mapstructure:"BATCH_SIZE"`
	RateReserve      int           `mapstructure:"RATE_RESERVE"`
	RetryMaxAttempts int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay   time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	RetryMaxDelay    time.Duration `mapstructure:"RETRY_MAX_DELAY"`
	CrawlInterval    time.Duration `mapstructure:"CRAWL_INTERVAL"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("GITHUB_GRAPHQL_URL", "https://api.github.com/graphql")
	viper.SetDefault("HTTP_LISTEN_ADDR", ":8080")
	viper.SetDefault("TARGET_REPO_COUNT", 100000)
	viper.SetDefault("CRAWL_CONCURRENCY", 5)
	viper.SetDefault("BATCH_SIZE", 100)
	viper.SetDefault("RATE_RESERVE", 100)
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	viper.SetDefault("RETRY_BASE_DELAY", "1s")
	viper.SetDefault("RETRY_MAX_DELAY", "30s")
	viper.SetDefault("CRAWL_INTERVAL", "0s")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.GithubToken == "" {
		return nil, errors.New("GITHUB_TOKEN is a required configuration field")
	}
	if cfg.TargetRepoCount < 0 {
		return nil, fmt.Errorf("TARGET_REPO_COUNT must not be negative, got %d", cfg.TargetRepoCount)
	}
	if cfg.CrawlConcurrency < 1 {
		return nil, fmt.Errorf("CRAWL_CONCURRENCY must be at least 1, got %d", cfg.CrawlConcurrency)
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("BATCH_SIZE must be at least 1, got %d", cfg.BatchSize)
	}
	if cfg.RateReserve < 0 {
		return nil, fmt.Errorf("RATE_RESERVE must not be negative, got %d", cfg.RateReserve)
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryBaseDelay <= 0 || cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return nil, errors.New("RETRY_BASE_DELAY must be positive and RETRY_MAX_DELAY must not be smaller")
	}

	return &cfg, nil
}
