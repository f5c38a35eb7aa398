package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const DefaultMaxAlbums = 10

// Config holds runtime settings. Values are resolved in order: defaults,
// optional TOML file, .env file, process environment.
type Config struct {
	Addr              string
	DBPath            string
	MaxAlbums         int
	SessionTTL        time.Duration
	SecureCookies     bool
	ProtectStream     bool
	AdminAPIAuth      bool
	CORSEnabled       bool
	WatchAlbums       bool
	WatchDebounce     time.Duration
	VerifyMinInterval time.Duration
	FFProbePath       string
	Log               LogConfig
	SQLite            SQLiteConfig
}

type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type SQLiteConfig struct {
	BusyTimeout time.Duration
	Synchronous string
	CacheSize   int
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Addr:              ":8080",
		DBPath:            "./data/lzc-story.db",
		MaxAlbums:         DefaultMaxAlbums,
		SessionTTL:        24 * time.Hour,
		AdminAPIAuth:      true,
		WatchDebounce:     2 * time.Second,
		VerifyMinInterval: time.Second,
		Log: LogConfig{
			Level:      "info",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     28,
		},
		SQLite: SQLiteConfig{
			BusyTimeout: 5 * time.Second,
			Synchronous: "NORMAL",
			CacheSize:   -2000,
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		var fc fileConfig
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if err := fc.apply(cfg); err != nil {
			return nil, err
		}
	}

	// godotenv never overrides variables that are already set.
	_ = godotenv.Load()

	cfg.applyEnv()

	if cfg.MaxAlbums <= 0 {
		cfg.MaxAlbums = DefaultMaxAlbums
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("ADDR", c.Addr)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.MaxAlbums = getEnvInt("MAX_ALBUMS", c.MaxAlbums)
	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)
	if strings.EqualFold(os.Getenv("APP_ENV"), "production") {
		c.SecureCookies = true
	}
	c.SecureCookies = getEnvBool("SECURE_COOKIES", c.SecureCookies)
	c.ProtectStream = getEnvBool("PROTECT_STREAM", c.ProtectStream)
	c.AdminAPIAuth = getEnvBool("ADMIN_API_AUTH", c.AdminAPIAuth)
	c.CORSEnabled = getEnvBool("CORS_ENABLED", c.CORSEnabled)
	c.WatchAlbums = getEnvBool("WATCH_ALBUMS", c.WatchAlbums)
	c.WatchDebounce = getEnvDuration("WATCH_DEBOUNCE", c.WatchDebounce)
	c.VerifyMinInterval = getEnvDuration("VERIFY_MIN_INTERVAL", c.VerifyMinInterval)
	c.FFProbePath = getEnv("FFPROBE_PATH", c.FFProbePath)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
	c.Log.MaxSize = getEnvInt("LOG_MAX_SIZE", c.Log.MaxSize)
	c.Log.MaxBackups = getEnvInt("LOG_MAX_BACKUPS", c.Log.MaxBackups)
	c.Log.MaxAge = getEnvInt("LOG_MAX_AGE", c.Log.MaxAge)
	c.Log.Compress = getEnvBool("LOG_COMPRESS", c.Log.Compress)

	c.SQLite.BusyTimeout = getEnvDuration("DB_BUSY_TIMEOUT", c.SQLite.BusyTimeout)
	c.SQLite.Synchronous = getEnv("DB_SYNCHRONOUS", c.SQLite.Synchronous)
	c.SQLite.CacheSize = getEnvInt("DB_CACHE_SIZE", c.SQLite.CacheSize)
}

// Validate checks the settings that have no usable fallback.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("config: addr must not be empty")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("config: db_path must not be empty")
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: session_ttl must be positive")
	}
	switch strings.ToUpper(c.SQLite.Synchronous) {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("config: invalid sqlite synchronous mode %q", c.SQLite.Synchronous)
	}
	return nil
}

// fileConfig mirrors Config for TOML decoding. Pointers distinguish unset
// keys from zero values; durations are written as strings such as "24h".
type fileConfig struct {
	Addr              *string `toml:"addr"`
	DBPath            *string `toml:"db_path"`
	MaxAlbums         *int    `toml:"max_albums"`
	SessionTTL        *string `toml:"session_ttl"`
	SecureCookies     *bool   `toml:"secure_cookies"`
	ProtectStream     *bool   `toml:"protect_stream"`
	AdminAPIAuth      *bool   `toml:"admin_api_auth"`
	CORSEnabled       *bool   `toml:"cors_enabled"`
	WatchAlbums       *bool   `toml:"watch_albums"`
	WatchDebounce     *string `toml:"watch_debounce"`
	VerifyMinInterval *string `toml:"verify_min_interval"`
	FFProbePath       *string `toml:"ffprobe_path"`
	Log               struct {
		Level      *string `toml:"level"`
		File       *string `toml:"file"`
		MaxSize    *int    `toml:"max_size"`
		MaxBackups *int    `toml:"max_backups"`
		MaxAge     *int    `toml:"max_age"`
		Compress   *bool   `toml:"compress"`
	} `toml:"log"`
	SQLite struct {
		BusyTimeout *string `toml:"busy_timeout"`
		Synchronous *string `toml:"synchronous"`
		CacheSize   *int    `toml:"cache_size"`
	} `toml:"sqlite"`
}

func (fc *fileConfig) apply(c *Config) error {
	setString(&c.Addr, fc.Addr)
	setString(&c.DBPath, fc.DBPath)
	setInt(&c.MaxAlbums, fc.MaxAlbums)
	setBool(&c.SecureCookies, fc.SecureCookies)
	setBool(&c.ProtectStream, fc.ProtectStream)
	setBool(&c.AdminAPIAuth, fc.AdminAPIAuth)
	setBool(&c.CORSEnabled, fc.CORSEnabled)
	setBool(&c.WatchAlbums, fc.WatchAlbums)
	setString(&c.FFProbePath, fc.FFProbePath)
	setString(&c.Log.Level, fc.Log.Level)
	setString(&c.Log.File, fc.Log.File)
	setInt(&c.Log.MaxSize, fc.Log.MaxSize)
	setInt(&c.Log.MaxBackups, fc.Log.MaxBackups)
	setInt(&c.Log.MaxAge, fc.Log.MaxAge)
	setBool(&c.Log.Compress, fc.Log.Compress)
	setString(&c.SQLite.Synchronous, fc.SQLite.Synchronous)
	setInt(&c.SQLite.CacheSize, fc.SQLite.CacheSize)

	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"session_ttl", fc.SessionTTL, &c.SessionTTL},
		{"watch_debounce", fc.WatchDebounce, &c.WatchDebounce},
		{"verify_min_interval", fc.VerifyMinInterval, &c.VerifyMinInterval},
		{"sqlite.busy_timeout", fc.SQLite.BusyTimeout, &c.SQLite.BusyTimeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("parse config: %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}
