// Package config provides YAML-based configuration loading for tradepost.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the file.
const (
	EnvJWTSecret     = "TRADEPOST_JWT_SECRET"
	EnvDBPassword    = "TRADEPOST_DB_PASSWORD"
	EnvRedisPassword = "TRADEPOST_REDIS_PASSWORD"
)

// Config is the top-level tradepost configuration, loaded from tradepost.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Locking  LockingConfig  `yaml:"locking"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
	Trade    TradeConfig    `yaml:"trade"`
	Seed     SeedConfig     `yaml:"seed"`
}

// DatabaseConfig selects and addresses the relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr      string  `yaml:"addr"`
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
}

// AuthConfig holds bearer-token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// LockingConfig selects the pair-lock backend.
type LockingConfig struct {
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
	Lease   time.Duration `yaml:"lease"`
}

// RedisConfig addresses the Redis server used by the redis lock backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig addresses the event bus. An empty URL disables events.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradeConfig holds negotiation limits.
type TradeConfig struct {
	ConfirmWindow    time.Duration `yaml:"confirm_window"`
	MaxMeetingMonths int           `yaml:"max_meeting_months"`
	MaxMessageLength int           `yaml:"max_message_length"`
}

// SeedConfig lists demo rows written by `tp db init --seed`.
type SeedConfig struct {
	Users []SeedUser `yaml:"users"`
	Items []SeedItem `yaml:"items"`
}

// SeedUser is one demo account.
type SeedUser struct {
	ID          uint   `yaml:"id"`
	DisplayName string `yaml:"display_name"`
}

// SeedItem is one demo listing.
type SeedItem struct {
	ID              uint    `yaml:"id"`
	SellerID        uint    `yaml:"seller_id"`
	Title           string  `yaml:"title"`
	Price           float64 `yaml:"price"`
	PriceNegotiable bool    `yaml:"price_negotiable"`
	AcceptsTrades   bool    `yaml:"accepts_trades"`
	Location        string  `yaml:"location"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Secrets set in the
// environment take precedence over the file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvDBPassword); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Redis.Password = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "tradepost"
		}
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "tradepost.db"
		}
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateRPS == 0 {
		c.Server.RateRPS = 10
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 20
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "tradepost"
	}

	if c.Locking.Backend == "" {
		c.Locking.Backend = "memory"
	}
	if c.Locking.Timeout == 0 {
		c.Locking.Timeout = 5 * time.Second
	}
	if c.Locking.Lease == 0 {
		c.Locking.Lease = 30 * time.Second
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "tradepost"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Trade.ConfirmWindow == 0 {
		c.Trade.ConfirmWindow = 24 * time.Hour
	}
	if c.Trade.MaxMeetingMonths == 0 {
		c.Trade.MaxMeetingMonths = 3
	}
	if c.Trade.MaxMessageLength == 0 {
		c.Trade.MaxMessageLength = 2000
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}
	switch c.Locking.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required when locking.backend is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("locking.backend %q must be memory or redis", c.Locking.Backend))
	}
	if c.Locking.Timeout < 0 {
		errs = append(errs, "locking.timeout must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be console or json", c.Log.Format))
	}
	if c.Trade.ConfirmWindow < 0 {
		errs = append(errs, "trade.confirm_window must not be negative")
	}
	if c.Trade.MaxMeetingMonths < 0 {
		errs = append(errs, "trade.max_meeting_months must not be negative")
	}
	if c.Trade.MaxMessageLength < 0 {
		errs = append(errs, "trade.max_message_length must not be negative")
	}
	if c.Server.RateRPS < 0 {
		errs = append(errs, "server.rate_rps must not be negative")
	}
	for i, u := range c.Seed.Users {
		if u.ID == 0 {
			errs = append(errs, fmt.Sprintf("seed.users[%d].id is required", i))
		}
	}
	for i, it := range c.Seed.Items {
		if it.ID == 0 {
			errs = append(errs, fmt.Sprintf("seed.items[%d].id is required", i))
		}
		if it.SellerID == 0 {
			errs = append(errs, fmt.Sprintf("seed.items[%d].seller_id is required", i))
		}
		if it.Title == "" {
			errs = append(errs, fmt.Sprintf("seed.items[%d].title is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Default returns a validated configuration with every default applied,
// used when no config file exists.
func Default() *Config {
	c := &Config{}
	c.applyEnv()
	c.applyDefaults()
	return c
}
