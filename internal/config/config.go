// Package config loads tokenkeeper settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

const (
	// PathEnv names the environment variable holding the config file path.
	PathEnv     = "TOKENKEEPER_CONFIG"
	DefaultPath = "tokenkeeper.yaml"
)

// Config holds all configuration for tokenkeeper.
type Config struct {
	LogLevel string `yaml:"log_level" env:"TOKENKEEPER_LOG_LEVEL"`

	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Token    TokenConfig    `yaml:"token"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Provider ProviderConfig `yaml:"provider"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
	// AdminPassword enables basic auth on /api when set.
	AdminPassword string `yaml:"admin_password" env:"TOKENKEEPER_ADMIN_PASSWORD"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"TOKENKEEPER_DB_PATH"`
}

type TokenConfig struct {
	ExpiryBuffer   time.Duration `yaml:"expiry_buffer" env:"TOKENKEEPER_EXPIRY_BUFFER"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"TOKENKEEPER_REFRESH_TIMEOUT"`
}

type SweepConfig struct {
	Enabled     bool          `yaml:"enabled" env:"TOKENKEEPER_SWEEP_ENABLED"`
	Schedule    string        `yaml:"schedule" env:"TOKENKEEPER_SWEEP_SCHEDULE"`
	Window      time.Duration `yaml:"window" env:"TOKENKEEPER_SWEEP_WINDOW"`
	Parallelism int           `yaml:"parallelism" env:"TOKENKEEPER_SWEEP_PARALLELISM"`
}

type ProviderConfig struct {
	Name         string   `yaml:"name" env:"TOKENKEEPER_PROVIDER"`
	ClientID     string   `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	TokenURL     string   `yaml:"token_url" env:"TOKENKEEPER_TOKEN_URL"`
	Scopes       []string `yaml:"scopes" env:"TOKENKEEPER_SCOPES" envSeparator:","`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"TOKENKEEPER_REDIS_ENABLED"`
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Channel  string `yaml:"channel" env:"TOKENKEEPER_REDIS_CHANNEL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{Path: "tokenkeeper.db"},
		Token: TokenConfig{
			ExpiryBuffer:   5 * time.Minute,
			RefreshTimeout: 30 * time.Second,
		},
		Sweep: SweepConfig{
			Enabled:     true,
			Schedule:    "@every 15m",
			Window:      20 * time.Minute,
			Parallelism: 4,
		},
		Provider: ProviderConfig{Name: "google"},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "tokenkeeper:reconnect",
		},
	}
}

// Load reads defaults, then the YAML file, then environment overrides.
// An empty path falls back to $TOKENKEEPER_CONFIG and then tokenkeeper.yaml;
// only an explicitly named file is required to exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if p := os.Getenv(PathEnv); p != "" {
			path, explicit = p, true
		} else {
			path = DefaultPath
		}
	}

	if err := cfg.readFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Token.ExpiryBuffer <= 0 {
		return fmt.Errorf("expiry_buffer must be positive: %s", c.Token.ExpiryBuffer)
	}
	if c.Token.RefreshTimeout <= 0 {
		return fmt.Errorf("refresh_timeout must be positive: %s", c.Token.RefreshTimeout)
	}
	if c.Sweep.Enabled {
		if c.Sweep.Schedule == "" {
			return errors.New("sweep schedule is required when sweeping is enabled")
		}
		if c.Sweep.Window <= c.Token.ExpiryBuffer {
			return fmt.Errorf("sweep window %s must exceed expiry buffer %s", c.Sweep.Window, c.Token.ExpiryBuffer)
		}
	}
	if c.Sweep.Parallelism < 1 {
		return fmt.Errorf("sweep parallelism must be at least 1: %d", c.Sweep.Parallelism)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis addr is required when redis is enabled")
	}
	switch c.LogLevel {
	case "silent", "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
