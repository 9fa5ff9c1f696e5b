package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/config"
	"github.com/iudanet/gophsync/internal/logging"
	"github.com/iudanet/gophsync/internal/server"
	"github.com/iudanet/gophsync/internal/server/auth"
	"github.com/iudanet/gophsync/internal/server/hub"
	"github.com/iudanet/gophsync/internal/server/middleware"
	"github.com/iudanet/gophsync/internal/server/service"
	"github.com/iudanet/gophsync/internal/server/storage/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	loader := config.NewServerLoader()
	var configFile string

	root := &cobra.Command{
		Use:           "gophsync-server",
		Short:         "Sync backend for gophsync devices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().String("db", "", "path to SQLite database")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	bind := func(cmd *cobra.Command, keys map[string]string) error {
		for key, name := range keys {
			if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return err
			}
		}
		return nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := bind(cmd, map[string]string{
				"addr":      "addr",
				"db_path":   "db",
				"log.level": "log-level",
			}); err != nil {
				return err
			}
			cfg, err := loader.LoadServer(configFile)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	serve.Flags().String("addr", "", "listen address")

	token := &cobra.Command{
		Use:   "token",
		Short: "Issue a device token for a scope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := bind(cmd, map[string]string{"log.level": "log-level"}); err != nil {
				return err
			}
			cfg, err := loader.LoadServer(configFile)
			if err != nil {
				return err
			}
			scope, _ := cmd.Flags().GetString("scope")
			device, _ := cmd.Flags().GetString("device")

			tokens, err := auth.NewTokens(auth.Config{Secret: []byte(cfg.TokenSecret), TTL: cfg.TokenTTL})
			if err != nil {
				return err
			}
			signed, err := tokens.Issue(scope, device)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().String("scope", "", "scope the token grants access to")
	token.Flags().String("device", "", "device id bound to the token")
	_ = token.MarkFlagRequired("scope")
	_ = token.MarkFlagRequired("device")

	version := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd)
		},
	}

	root.AddCommand(serve, token, version)
	return root
}

func runServe(ctx context.Context, cfg *config.ServerConfig) error {
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info("Starting gophsync server", "version", Version, "addr", cfg.Addr, "db", cfg.DBPath)

	store, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svcCfg := service.DefaultConfig()
	svcCfg.Tables = cfg.Tables
	svcCfg.Window = cfg.RetentionWindow
	svcCfg.RetentionInterval = cfg.RetentionInterval
	svcCfg.MaxPullLimit = cfg.MaxPullLimit
	if svcCfg.DefaultPullLimit > svcCfg.MaxPullLimit {
		svcCfg.DefaultPullLimit = svcCfg.MaxPullLimit
	}
	svc := service.New(store, hub.New(cfg.SubscriberBuffer, logger), service.NewMetrics(reg), svcCfg, logger)

	tokens, err := auth.NewTokens(auth.Config{Secret: []byte(cfg.TokenSecret), TTL: cfg.TokenTTL})
	if err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow, logger)
	defer limiter.Stop()

	handler := server.NewRouter(server.RouterConfig{
		Logger:   logger,
		Backend:  svc,
		Tokens:   tokens,
		Limiter:  limiter,
		Gatherer: reg,
		Version:  Version,
	})

	if err := server.New(cfg.Addr, handler, svc, cfg.ShutdownTimeout, logger).Run(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "gophsync server\n")
	fmt.Fprintf(out, "Version:    %s\n", Version)
	fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
	fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
}
