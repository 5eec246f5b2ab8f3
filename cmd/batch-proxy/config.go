package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/go-batches/pkg/fetch"
	"github.com/Sternrassler/go-batches/pkg/logging"
)

// Upstream modes.
const (
	modePage  = "page"
	modeToken = "token"
)

// proxyConfig is the complete proxy configuration.
// Precedence: environment defaults, then the YAML file, then explicit flags.
type proxyConfig struct {
	Listen   string            `yaml:"listen"`
	RedisURL string            `yaml:"redis_url"` // empty disables the Redis tier
	Mode     string            `yaml:"mode"`      // "page" or "token"
	First    int               `yaml:"first_page"`
	Merge    string            `yaml:"merge"` // "append" or "prepend"
	Upstream fetch.Config      `yaml:"upstream"`
	Cache    fetch.CacheConfig `yaml:"cache"`
	Log      logging.Config    `yaml:"log"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// defaultConfig returns the configuration taken from the environment.
func defaultConfig() proxyConfig {
	source := getEnv("SOURCE_NAME", "upstream")

	cfg := proxyConfig{
		Listen:   ":" + getEnv("PORT", "8080"),
		RedisURL: getEnv("REDIS_URL", ""),
		Mode:     getEnv("UPSTREAM_MODE", modePage),
		First:    getEnvInt("FIRST_PAGE", 1),
		Merge:    "append",
		Upstream: fetch.DefaultConfig(
			getEnv("UPSTREAM_URL", "http://localhost:9000"),
			getEnv("UPSTREAM_ENDPOINT", "/items"),
			getEnv("USER_AGENT", "go-batches/0.1.0"),
		),
		Cache: fetch.DefaultCacheConfig(source),
		Log: logging.Config{
			Level:  logging.LogLevel(getEnv("LOG_LEVEL", string(logging.LevelInfo))),
			Pretty: getEnv("LOG_PRETTY", "") != "",
		},
		ShutdownTimeout: 10 * time.Second,
	}

	return cfg
}

// loadConfigFile overlays the YAML file at path onto cfg.
func loadConfigFile(path string, cfg *proxyConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// validate checks the values the proxy cannot start without.
func (c proxyConfig) validate() error {
	switch c.Mode {
	case modePage, modeToken:
	default:
		return fmt.Errorf("mode must be %q or %q (got %q)", modePage, modeToken, c.Mode)
	}

	switch c.Merge {
	case "append", "prepend":
	default:
		return fmt.Errorf("merge must be \"append\" or \"prepend\" (got %q)", c.Merge)
	}

	if c.Upstream.BaseURL == "" {
		return fetch.ErrBaseURLRequired
	}
	if c.Upstream.UserAgent == "" {
		return fetch.ErrUserAgentRequired
	}
	if c.Cache.MemorySize < 0 {
		return fmt.Errorf("cache memory_size must be >= 0 (got %d)", c.Cache.MemorySize)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
