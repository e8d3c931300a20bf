// Package config loads daemon settings. Sources are applied in order, later
// ones winning: built-in defaults, the YAML file named by OPENCLAPP_CONFIG,
// a .env file in the working directory, then OPENCLAPP_* variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigEnv names the variable holding the YAML config path.
const ConfigEnv = "OPENCLAPP_CONFIG"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Verify    VerifyConfig    `yaml:"verify"`
	XAPI      XAPIConfig      `yaml:"xapi"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Admin     AdminConfig     `yaml:"admin"`
	Log       LogConfig       `yaml:"log"`
	Jobs      JobsConfig      `yaml:"jobs"`
	History   HistoryConfig   `yaml:"history"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"OPENCLAPP_ADDR"`
	TLS             bool          `yaml:"tls" env:"OPENCLAPP_TLS"`
	CertFile        string        `yaml:"cert_file" env:"OPENCLAPP_TLS_CERT"`
	KeyFile         string        `yaml:"key_file" env:"OPENCLAPP_TLS_KEY"`
	AllowOrigin     string        `yaml:"allow_origin" env:"OPENCLAPP_CORS_ORIGIN"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"OPENCLAPP_SHUTDOWN_TIMEOUT"`
}

type StoreConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver  string `yaml:"driver" env:"OPENCLAPP_STORE_DRIVER"`
	DSN     string `yaml:"dsn" env:"OPENCLAPP_STORE_DSN"`
	DataDir string `yaml:"data_dir" env:"OPENCLAPP_DATA_DIR"`
}

type VerifyConfig struct {
	ChallengeTTL time.Duration `yaml:"challenge_ttl" env:"OPENCLAPP_CHALLENGE_TTL"`
}

type XAPIConfig struct {
	BaseURL     string        `yaml:"base_url" env:"OPENCLAPP_X_API_URL"`
	BearerToken string        `yaml:"bearer_token" env:"OPENCLAPP_X_BEARER_TOKEN"`
	Timeout     time.Duration `yaml:"timeout" env:"OPENCLAPP_X_TIMEOUT"`
}

// RedisConfig enables cross-instance ticker fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"OPENCLAPP_REDIS_ADDR"`
	Password string `yaml:"password" env:"OPENCLAPP_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"OPENCLAPP_REDIS_DB"`
	Channel  string `yaml:"channel" env:"OPENCLAPP_REDIS_CHANNEL"`
}

// RateLimitConfig limits write requests per client IP. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"OPENCLAPP_RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"OPENCLAPP_RATE_LIMIT_BURST"`
}

// AdminConfig guards the wipe endpoints. An empty secret disables them.
type AdminConfig struct {
	Secret string `yaml:"secret" env:"OPENCLAPP_ADMIN_SECRET"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"OPENCLAPP_LOG_LEVEL"`
	Format string `yaml:"format" env:"OPENCLAPP_LOG_FORMAT"`
}

type JobsConfig struct {
	// StatsSchedule is a cron spec; empty disables the gauge refresh.
	StatsSchedule string `yaml:"stats_schedule" env:"OPENCLAPP_STATS_SCHEDULE"`
}

type HistoryConfig struct {
	MaxPoints int `yaml:"max_points" env:"OPENCLAPP_HISTORY_MAX_POINTS"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowOrigin:     "*",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DSN:     "openclapp.db",
			DataDir: "./data",
		},
		Verify: VerifyConfig{ChallengeTTL: time.Hour},
		XAPI: XAPIConfig{
			BaseURL: "https://api.x.com",
			Timeout: 10 * time.Second,
		},
		Redis:     RedisConfig{Channel: "openclapp:events"},
		RateLimit: RateLimitConfig{RequestsPerSecond: 5, Burst: 20},
		Log:       LogConfig{Level: "info", Format: "text"},
		Jobs:      JobsConfig{StatsSchedule: "@every 30s"},
		History:   HistoryConfig{MaxPoints: 120},
	}
}

// Load builds the configuration from every source. path overrides
// OPENCLAPP_CONFIG when non-empty.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Variables already set in the environment take precedence over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return errors.New("server.cert_file and server.key_file must be set together")
	}
	if c.Verify.ChallengeTTL <= 0 {
		return errors.New("verify.challenge_ttl must be positive")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		return errors.New("rate_limit.burst must be positive when rate limiting is enabled")
	}
	if c.History.MaxPoints < 2 {
		return errors.New("history.max_points must be at least 2")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}
