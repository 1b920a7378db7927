package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	CacheBackendMemory   = "memory"
	CacheBackendSQLite   = "sqlite"
	CacheBackendPostgres = "postgres"
)

type Config struct {
	Port            string `yaml:"port"`
	BackendURL      string `yaml:"backend_url"`
	BackendTimeout  string `yaml:"backend_timeout"`
	CacheBackend    string `yaml:"cache_backend"`
	CachePath       string `yaml:"cache_path"`
	CacheMaxEntries int    `yaml:"cache_max_entries"`
	PostgresURL     string `yaml:"postgres_url,omitempty"`
	BrowserHeadless bool   `yaml:"browser_headless"`
	BrowserStartURL string `yaml:"browser_start_url"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
}

func Defaults() Config {
	return Config{
		Port:            "8787",
		BackendURL:      "http://127.0.0.1:8000",
		BackendTimeout:  "30s",
		CacheBackend:    CacheBackendSQLite,
		CachePath:       DefaultCachePath(),
		CacheMaxEntries: 500,
		BrowserStartURL: "about:blank",
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "newslens", "config.yaml")
}

func DefaultCachePath() string {
	return filepath.Join(xdg.DataHome, "newslens", "cache.db")
}

// Load layers the optional YAML file over the defaults and the environment
// over both. An empty path falls back to $NEWSLENS_CONFIG, then to the XDG
// config location. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = getEnv("NEWSLENS_CONFIG", DefaultConfigPath())
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg = applyEnv(cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg Config) Config {
	cfg.Port = getEnv("NEWSLENS_PORT", cfg.Port)
	cfg.BackendURL = getEnv("BACKEND_URL", cfg.BackendURL)
	cfg.BackendTimeout = getEnv("BACKEND_TIMEOUT", cfg.BackendTimeout)
	cfg.CacheBackend = strings.ToLower(getEnv("CACHE_BACKEND", cfg.CacheBackend))
	cfg.CachePath = getEnv("CACHE_PATH", cfg.CachePath)
	cfg.CacheMaxEntries = getEnvInt("CACHE_MAX_ENTRIES", cfg.CacheMaxEntries)
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	if cfg.PostgresURL == "" {
		cfg.PostgresURL = buildPostgresURL()
	}
	cfg.BrowserHeadless = getEnvBool("BROWSER_HEADLESS", cfg.BrowserHeadless)
	cfg.BrowserStartURL = getEnv("BROWSER_START_URL", cfg.BrowserStartURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", cfg.LogFormat))
	return cfg
}

func validate(cfg Config) error {
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return fmt.Errorf("port %q: must be numeric", cfg.Port)
	}
	u, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return fmt.Errorf("backend_url: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend_url: scheme must be http or https, got %q", u.Scheme)
	}
	if d, err := time.ParseDuration(cfg.BackendTimeout); err != nil || d <= 0 {
		return fmt.Errorf("backend_timeout %q: must be a positive duration", cfg.BackendTimeout)
	}
	switch cfg.CacheBackend {
	case CacheBackendMemory, CacheBackendSQLite, CacheBackendPostgres:
	default:
		return fmt.Errorf("cache_backend %q: unknown backend (valid: memory, sqlite, postgres)", cfg.CacheBackend)
	}
	if cfg.CacheMaxEntries < 0 {
		return fmt.Errorf("cache_max_entries %d: must be zero (unbounded) or positive", cfg.CacheMaxEntries)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("log_level %q: %w", cfg.LogLevel, err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("log_format %q: must be text or json", cfg.LogFormat)
	}
	return nil
}

func (c Config) Addr() string {
	return ":" + c.Port
}

func (c Config) BackendTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.BackendTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "newslens")
	password := getEnv("POSTGRES_PASSWORD", "newslens")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "newslens")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
