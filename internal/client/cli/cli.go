// Package cli implements the gophsync device agent command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/engine"
	"github.com/iudanet/gophsync/internal/client/events"
	"github.com/iudanet/gophsync/internal/client/iocli"
	"github.com/iudanet/gophsync/internal/client/outbox"
	"github.com/iudanet/gophsync/internal/client/retention"
	"github.com/iudanet/gophsync/internal/client/storage/boltdb"
	"github.com/iudanet/gophsync/internal/client/subscription"
	"github.com/iudanet/gophsync/internal/config"
	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/logging"
)

// Env carries what an engine needs besides the configuration.
type Env struct {
	Sealer api.PayloadSealer // nil - payloads are sent in clear
	Sink   events.Sink
	Logger *slog.Logger
}

// Opener builds a stopped engine for the configured scope.
type Opener func(ctx context.Context, cfg *config.ClientConfig, env Env) (*engine.Engine, error)

// VersionInfo is printed by the version command.
type VersionInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

// Cli holds the state shared by the commands of one invocation.
type Cli struct {
	io             iocli.IO
	open           Opener
	loader         *config.Loader
	cfg            *config.ClientConfig
	logger         *slog.Logger
	logCloser      io.Closer
	version        VersionInfo
	configFile     string
	passphraseFile string
}

// New creates the command line over io. open is usually OpenEngine.
func New(stdio iocli.IO, open Opener, version VersionInfo) *Cli {
	return &Cli{
		io:      stdio,
		open:    open,
		loader:  config.NewClientLoader(),
		version: version,
	}
}

// flagKeys maps persistent flags to configuration keys
var flagKeys = map[string]string{
	"server":     "server_url",
	"token":      "token",
	"data-dir":   "data_dir",
	"scope":      "scope",
	"device":     "device_id",
	"tables":     "tables",
	"encrypt":    "encrypt",
	"log-level":  "log.level",
	"log-format": "log.format",
	"log-file":   "log.file",
}

// Command returns the root command.
func (c *Cli) Command() *cobra.Command {
	root := &cobra.Command{
		Use:           "gophsync",
		Short:         "Local-first sync agent",
		Long:          "gophsync keeps a local copy of a scope and syncs it with the gophsync server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			c.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configFile, "config", "c", "", "path to YAML config file")
	pf.StringVar(&c.passphraseFile, "passphrase-file", "", "file holding the scope passphrase")
	pf.String("server", "", "server URL")
	pf.String("token", "", "device token")
	pf.String("data-dir", "", "directory of local databases")
	pf.StringP("scope", "s", "", "scope to work with")
	pf.String("device", "", "device id (generated when empty)")
	pf.StringSlice("tables", nil, "synced tables")
	pf.Bool("encrypt", false, "encrypt payloads with the scope passphrase")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (text, json)")
	pf.String("log-file", "", "log file, rotated")

	root.AddCommand(
		c.runCommand(),
		c.putCommand(),
		c.patchCommand(),
		c.deleteCommand(),
		c.getCommand(),
		c.listCommand(),
		c.statusCommand(),
		c.syncCommand(),
		c.rescanCommand(),
		c.retryFailedCommand(),
		c.versionCommand(),
	)
	return root
}

// setup loads the configuration and the logger before a command runs
func (c *Cli) setup(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if err := c.loader.BindFlag(key, cmd.Root().PersistentFlags().Lookup(name)); err != nil {
			return err
		}
	}

	cfg, err := c.loader.LoadClient(c.configFile)
	if err != nil {
		return err
	}
	c.cfg = cfg

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	c.logger = logger
	c.logCloser = closer
	return nil
}

func (c *Cli) teardown() {
	if c.logCloser != nil {
		_ = c.logCloser.Close()
		c.logCloser = nil
	}
}

// env собирает зависимости движка; пароль запрашивается только при encrypt
func (c *Cli) env(sink events.Sink) (Env, error) {
	env := Env{Sink: sink, Logger: c.logger}
	if !c.cfg.Encrypt {
		return env, nil
	}

	passphrase, err := c.passphrase()
	if err != nil {
		return env, fmt.Errorf("failed to get passphrase: %w", err)
	}
	key, err := crypto.DeriveScopeKey(passphrase, c.cfg.Scope)
	if err != nil {
		return env, err
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return env, err
	}
	env.Sealer = sealer
	return env, nil
}

// passphrase reads the scope passphrase with priority:
// 1. configuration (GOPHSYNC_PASSPHRASE or the config file)
// 2. --passphrase-file
// 3. interactive prompt
func (c *Cli) passphrase() (string, error) {
	if c.cfg.Passphrase != "" {
		return c.cfg.Passphrase, nil
	}

	if c.passphraseFile != "" {
		content, err := os.ReadFile(c.passphraseFile)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase file: %w", err)
		}
		// Убираем trailing newline/whitespace
		passphrase := strings.TrimSpace(string(content))
		if passphrase == "" {
			return "", errors.New("passphrase file is empty")
		}
		return passphrase, nil
	}

	passphrase, err := c.io.ReadPassword(fmt.Sprintf("Passphrase for scope %s: ", c.cfg.Scope))
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if passphrase == "" {
		return "", errors.New("passphrase cannot be empty")
	}
	return passphrase, nil
}

// withEngine opens the engine of the configured scope, runs fn and disposes it
func (c *Cli) withEngine(ctx context.Context, fn func(e *engine.Engine) error) error {
	env, err := c.env(events.NewLogSink(c.logger))
	if err != nil {
		return err
	}
	e, err := c.open(ctx, c.cfg, env)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Dispose(); err != nil {
			c.logger.Error("Failed to close engine", "error", err)
		}
	}()
	return fn(e)
}

// EngineConfig maps the client configuration onto engine settings.
func EngineConfig(cfg *config.ClientConfig) engine.Config {
	return engine.Config{
		DeviceID: cfg.DeviceID,
		Tables:   cfg.Tables,
		Outbox: outbox.Config{
			FlushInterval: cfg.Sync.FlushInterval,
			BatchSize:     cfg.Sync.BatchSize,
			QueueCeiling:  cfg.Sync.QueueCeiling,
		},
		Subscription: subscription.Config{
			PageSize:      cfg.Sync.PageSize,
			MaxReconnects: uint64(cfg.Sync.MaxReconnects),
		},
		Retention: retention.Config{
			Interval: cfg.Sync.RetentionInterval,
			Window:   cfg.Sync.RetentionWindow,
		},
	}
}

// DatabasePath returns the local database file of the configured scope.
func DatabasePath(cfg *config.ClientConfig) string {
	return filepath.Join(cfg.DataDir, cfg.Scope+".db")
}

// OpenEngine opens the scope database under the data directory and wires
// an engine talking to the configured server.
func OpenEngine(ctx context.Context, cfg *config.ClientConfig, env Env) (*engine.Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	var opts []api.Option
	if env.Sealer != nil {
		opts = append(opts, api.WithSealer(env.Sealer))
	}
	client := api.NewClient(cfg.ServerURL, cfg.Token, opts...)

	store, err := boltdb.New(ctx, DatabasePath(cfg), cfg.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	e, err := engine.New(ctx, store, client, EngineConfig(cfg), env.Sink, env.Logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return e, nil
}
