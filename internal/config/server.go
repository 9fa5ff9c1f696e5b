package config

import (
	"fmt"
	"time"
)

// ServerConfig holds backend settings.
type ServerConfig struct {
	Log               LogConfig     `mapstructure:"log"`
	Addr              string        `mapstructure:"addr"`
	DBPath            string        `mapstructure:"db_path"`
	TokenSecret       string        `mapstructure:"token_secret"`
	Tables            []string      `mapstructure:"tables"` // пусто - любые таблицы
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	RetentionWindow   time.Duration `mapstructure:"retention_window"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
	RateWindow        time.Duration `mapstructure:"rate_window"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit         int           `mapstructure:"rate_limit"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
	MaxPullLimit      int           `mapstructure:"max_pull_limit"`
}

// NewServerLoader returns a loader primed with server defaults.
func NewServerLoader() *Loader {
	v := newViper()
	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "gophsync.db")
	v.SetDefault("token_secret", "")
	v.SetDefault("tables", []string{})
	v.SetDefault("token_ttl", time.Duration(0))
	v.SetDefault("retention_window", 30*24*time.Hour)
	v.SetDefault("retention_interval", time.Hour)
	v.SetDefault("rate_window", time.Minute)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("rate_limit", 600)
	v.SetDefault("subscriber_buffer", 64)
	v.SetDefault("max_pull_limit", 1000)
	setLogDefaults(v)
	return &Loader{v: v}
}

// LoadServer reads and validates the server configuration. file may be empty.
func (l *Loader) LoadServer(file string) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := l.read(file, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and ranges.
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr is required", ErrInvalidConfig)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path is required", ErrInvalidConfig)
	}
	if len(c.TokenSecret) < 16 {
		return fmt.Errorf("%w: token_secret must be at least 16 characters", ErrInvalidConfig)
	}
	if c.TokenTTL < 0 {
		return fmt.Errorf("%w: token_ttl must not be negative", ErrInvalidConfig)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("%w: rate_limit must be positive", ErrInvalidConfig)
	}
	for name, d := range map[string]time.Duration{
		"retention_window":   c.RetentionWindow,
		"retention_interval": c.RetentionInterval,
		"rate_window":        c.RateWindow,
		"shutdown_timeout":   c.ShutdownTimeout,
	} {
		if err := positive(name, d); err != nil {
			return err
		}
	}
	if err := validateTables(c.Tables); err != nil {
		return err
	}
	return c.Log.Validate()
}
