package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/iudanet/gophsync/internal/validation"
)

// SyncConfig holds engine tuning shared by every scope.
type SyncConfig struct {
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
	RetentionWindow   time.Duration `mapstructure:"retention_window"`
	BatchSize         int           `mapstructure:"batch_size"`
	QueueCeiling      int           `mapstructure:"queue_ceiling"`
	PageSize          int           `mapstructure:"page_size"`
	MaxReconnects     int           `mapstructure:"max_reconnects"`
}

// ClientConfig holds device agent settings.
type ClientConfig struct {
	Log       LogConfig  `mapstructure:"log"`
	Sync      SyncConfig `mapstructure:"sync"`
	ServerURL string     `mapstructure:"server_url"`
	Token     string     `mapstructure:"token"`
	DataDir   string     `mapstructure:"data_dir"`
	Scope     string     `mapstructure:"scope"`
	// DeviceID пусто - генерируется при первом запуске
	DeviceID string `mapstructure:"device_id"`
	// Passphrase обычно задается через GOPHSYNC_PASSPHRASE или запрашивается
	Passphrase string   `mapstructure:"passphrase"`
	Tables     []string `mapstructure:"tables"`
	Encrypt    bool     `mapstructure:"encrypt"`
}

// NewClientLoader returns a loader primed with client defaults.
func NewClientLoader() *Loader {
	v := newViper()
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("token", "")
	v.SetDefault("data_dir", "gophsync-data")
	v.SetDefault("scope", "")
	v.SetDefault("device_id", "")
	v.SetDefault("passphrase", "")
	v.SetDefault("tables", []string{})
	v.SetDefault("encrypt", false)
	v.SetDefault("sync.flush_interval", 2*time.Second)
	v.SetDefault("sync.retention_interval", time.Hour)
	v.SetDefault("sync.retention_window", 30*24*time.Hour)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.queue_ceiling", 10_000)
	v.SetDefault("sync.page_size", 500)
	v.SetDefault("sync.max_reconnects", 10)
	setLogDefaults(v)
	return &Loader{v: v}
}

// LoadClient reads and validates the client configuration. file may be empty.
func (l *Loader) LoadClient(file string) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := l.read(file, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and ranges. The token is checked only
// by commands that talk to the server.
func (c *ClientConfig) Validate() error {
	if err := validation.ValidateScope(c.Scope); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.DeviceID != "" {
		if err := validation.ValidateDeviceID(c.DeviceID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: server_url must be an http(s) URL", ErrInvalidConfig)
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("%w: at least one synced table is required", ErrInvalidConfig)
	}
	if err := validateTables(c.Tables); err != nil {
		return err
	}
	if err := positive("sync.flush_interval", c.Sync.FlushInterval); err != nil {
		return err
	}
	if err := positive("sync.retention_interval", c.Sync.RetentionInterval); err != nil {
		return err
	}
	if err := positive("sync.retention_window", c.Sync.RetentionWindow); err != nil {
		return err
	}
	if c.Sync.BatchSize <= 0 || c.Sync.PageSize <= 0 || c.Sync.QueueCeiling <= 0 {
		return fmt.Errorf("%w: sync sizes must be positive", ErrInvalidConfig)
	}
	if c.Sync.MaxReconnects < 0 {
		return fmt.Errorf("%w: sync.max_reconnects must not be negative", ErrInvalidConfig)
	}
	return c.Log.Validate()
}

// RequireToken checks that a device token is configured.
func (c *ClientConfig) RequireToken() error {
	if c.Token == "" {
		return fmt.Errorf("%w: token is required (issue one with the server token command)", ErrInvalidConfig)
	}
	return nil
}
