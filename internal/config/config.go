package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`
	Host string `yaml:"host"`
	Env  string `yaml:"env" validate:"oneof=development production"`
}

// BackendConfig holds the assembly backend connection
type BackendConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"` // zero means no client timeout
}

// SessionConfig holds live session timing
type SessionConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval" validate:"gt=0"`
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gte=0"` // zero disables refresh
	StaleTimeout    time.Duration `yaml:"stale_timeout" validate:"gt=0"`
}

// CacheConfig holds the local session cache location
type CacheConfig struct {
	Dir      string `yaml:"dir" validate:"required_unless=InMemory true"`
	InMemory bool   `yaml:"in_memory"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"` // "json" or "text"
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "127.0.0.1",
			Env:  "development",
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:3000/api",
		},
		Session: SessionConfig{
			TickInterval:    time.Second,
			RefreshInterval: 10 * time.Second,
			StaleTimeout:    2 * time.Hour,
		},
		Cache: CacheConfig{
			Dir: "./data/cache",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from environment variables with defaults. A .env
// file in the working directory is read first when present.
func Load() *Config {
	loadDotEnv()
	return applyEnv(Defaults())
}

// LoadFile overlays a YAML file on the defaults, then applies environment
// variables, which take precedence. An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	loadDotEnv()

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	return applyEnv(cfg), nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetAddr returns the server address in host:port format
func (c *Config) GetAddr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}
}

// applyEnv overrides cfg with the environment
func applyEnv(cfg *Config) *Config {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.Env = getEnv("ENV", cfg.Server.Env)

	cfg.Backend.BaseURL = strings.TrimRight(getEnv("BACKEND_BASE_URL", cfg.Backend.BaseURL), "/")
	cfg.Backend.Token = getEnv("BACKEND_TOKEN", cfg.Backend.Token)
	cfg.Backend.Timeout = getEnvDuration("BACKEND_TIMEOUT_SECONDS", time.Second, cfg.Backend.Timeout)

	cfg.Session.TickInterval = getEnvDuration("COUNTDOWN_TICK_MILLISECONDS", time.Millisecond, cfg.Session.TickInterval)
	cfg.Session.RefreshInterval = getEnvDuration("SESSION_REFRESH_SECONDS", time.Second, cfg.Session.RefreshInterval)
	cfg.Session.StaleTimeout = getEnvDuration("SESSION_STALE_MINUTES", time.Minute, cfg.Session.StaleTimeout)

	cfg.Cache.Dir = getEnv("CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.InMemory = getEnvBool("CACHE_IN_MEMORY", cfg.Cache.InMemory)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	return cfg
}

// getEnv returns an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns an environment variable as an integer or a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration reads an integer count of unit
func getEnvDuration(key string, unit, defaultValue time.Duration) time.Duration {
	const unset = -1
	if n := getEnvInt(key, unset); n != unset {
		return time.Duration(n) * unit
	}
	return defaultValue
}

// getEnvBool returns an environment variable as a boolean or a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
