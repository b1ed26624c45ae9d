// Package config loads reelfeed settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reelfeed/reelfeed/internal/feed"
	"github.com/reelfeed/reelfeed/internal/visibility"
)

type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	BaseURL         string        `yaml:"base_url"` // public URL of this server
	BackendURL      string        `yaml:"backend_url"`
	BackendTimeout  time.Duration `yaml:"backend_timeout"`
	TokenFile       string        `yaml:"token_file"`
	DatabaseURL     string        `yaml:"database_url"`
	DefaultCategory string        `yaml:"default_category"`
	PageSize        int           `yaml:"page_size"`
	Threshold       float64       `yaml:"visibility_threshold"`
	MaxSessions     int           `yaml:"max_sessions"`
	SessionTTL      time.Duration `yaml:"session_ttl"` // idle feed sessions are closed after this
	LogLevel        string        `yaml:"log_level"`
	RateLimit       float64       `yaml:"rate_limit"` // requests per second per visitor
	RateBurst       int           `yaml:"rate_burst"`
	WebDir          string        `yaml:"web_dir"` // built browser UI, optional
	GeoIPFile       string        `yaml:"geoip_file"`
}

func Default() Config {
	home, _ := os.UserConfigDir()
	if home == "" {
		home = "."
	}
	return Config{
		ListenAddr:      ":8080",
		BaseURL:         "http://localhost:8080",
		BackendURL:      "http://localhost:8000",
		BackendTimeout:  15 * time.Second,
		TokenFile:       filepath.Join(home, "reelfeed", "token"),
		DefaultCategory: string(feed.ForYou),
		PageSize:        feed.DefaultPageSize,
		Threshold:       visibility.DefaultThreshold,
		MaxSessions:     64,
		SessionTTL:      30 * time.Minute,
		LogLevel:        "info",
		RateLimit:       20,
		RateBurst:       40,
	}
}

// Load returns defaults overlaid with the YAML file at path (skipped when
// path is empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.BaseURL = getEnv("BASE_URL", cfg.BaseURL)
	cfg.BackendURL = getEnv("BACKEND_URL", cfg.BackendURL)
	cfg.TokenFile = getEnv("TOKEN_FILE", cfg.TokenFile)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DefaultCategory = getEnv("DEFAULT_CATEGORY", cfg.DefaultCategory)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.WebDir = getEnv("WEB_DIR", cfg.WebDir)
	cfg.GeoIPFile = getEnv("GEOIP_DB", cfg.GeoIPFile)
	cfg.PageSize = int(getEnvInt64("PAGE_SIZE", int64(cfg.PageSize)))
	cfg.MaxSessions = int(getEnvInt64("MAX_SESSIONS", int64(cfg.MaxSessions)))
	cfg.RateBurst = int(getEnvInt64("RATE_BURST", int64(cfg.RateBurst)))

	if v := os.Getenv("BACKEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BACKEND_TIMEOUT: %w", err)
		}
		cfg.BackendTimeout = d
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}
	if v := os.Getenv("VISIBILITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("VISIBILITY_THRESHOLD: %w", err)
		}
		cfg.Threshold = f
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = f
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if u, err := url.Parse(c.BackendURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend_url must be an http(s) URL, got %q", c.BackendURL))
	}
	if strings.TrimSpace(c.TokenFile) == "" {
		errs = append(errs, errors.New("token_file is required"))
	}
	if _, err := feed.ParseCategory(c.DefaultCategory); err != nil {
		errs = append(errs, fmt.Errorf("default_category: %w", err))
	}
	if c.PageSize < 1 || c.PageSize > 50 {
		errs = append(errs, fmt.Errorf("page_size must be between 1 and 50, got %d", c.PageSize))
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("visibility_threshold must be in (0, 1], got %g", c.Threshold))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions))
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		errs = append(errs, errors.New("rate_limit and rate_burst must be positive"))
	}
	if c.SessionTTL < time.Minute {
		errs = append(errs, fmt.Errorf("session_ttl must be at least 1m, got %s", c.SessionTTL))
	}
	if c.BackendTimeout <= 0 {
		errs = append(errs, errors.New("backend_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// HistoryEnabled reports whether a play journal database is configured.
func (c Config) HistoryEnabled() bool {
	return c.DatabaseURL != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
