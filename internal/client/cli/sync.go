package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/gophsync/internal/client/engine"
	"github.com/iudanet/gophsync/internal/client/events"
	"github.com/iudanet/gophsync/internal/config"
)

func (c *Cli) syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending changes and pull from the server once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.cfg.RequireToken(); err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(e *engine.Engine) error {
				c.io.Println("=== Synchronization ===")
				c.io.Println()

				res, err := e.Sync(cmd.Context())
				if err != nil {
					return fmt.Errorf("synchronization failed: %w", err)
				}

				c.io.Println("✓ Synchronization completed successfully!")
				c.io.Println()
				c.io.Printf("Pulled from server: %d change(s)\n", res.Changes)
				c.io.Printf("Applied locally:    %d change(s)\n", res.Applied)
				if res.Conflicts > 0 {
					c.io.Printf("Conflicts resolved: %d\n", res.Conflicts)
				}
				if res.Rescanned {
					c.io.Println("Local history was too old; the scope was re-downloaded.")
				}
				c.io.Printf("Cursor:             %d\n", res.Cursor)

				return c.printQueue(cmd.Context(), e)
			})
		},
	}
}

func (c *Cli) rescanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rescan",
		Short: "Drop synced state and download the scope again",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.cfg.RequireToken(); err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(e *engine.Engine) error {
				res, err := e.Rescan(cmd.Context())
				if err != nil {
					return fmt.Errorf("rescan failed: %w", err)
				}
				c.io.Printf("✓ Rescan completed: %d change(s) in %d page(s), cursor %d\n", res.Changes, res.Pages, res.Cursor)
				return nil
			})
		},
	}
}

func (c *Cli) retryFailedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Move rejected operations back to the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd.Context(), func(e *engine.Engine) error {
				n, err := e.RetryFailed(cmd.Context())
				if err != nil {
					return err
				}
				if n == 0 {
					c.io.Println("No failed operations.")
					return nil
				}
				c.io.Printf("✓ %d operation(s) moved back to pending\n", n)
				c.io.Println("Run 'gophsync sync' to send them to the server.")
				return nil
			})
		},
	}
}

func (c *Cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local sync state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd.Context(), func(e *engine.Engine) error {
				st, err := e.Status(cmd.Context())
				if err != nil {
					return err
				}

				c.io.Println("=== Sync Status ===")
				c.io.Println()
				c.io.Printf("Scope:       %s\n", st.Scope)
				c.io.Printf("Device:      %s\n", st.DeviceID)
				c.io.Printf("Cursor:      %d\n", st.Cursor)
				c.io.Printf("Clock:       %s\n", st.HLC)
				c.io.Printf("Tombstones:  %d\n", st.Tombstones)
				if st.LastSyncedAt.IsZero() {
					c.io.Println("Last synced: never")
				} else {
					c.io.Printf("Last synced: %s\n", st.LastSyncedAt.Format(time.RFC3339))
				}
				return c.printQueue(cmd.Context(), e)
			})
		},
	}
}

func (c *Cli) printQueue(ctx context.Context, e *engine.Engine) error {
	st, err := e.Status(ctx)
	if err != nil {
		return err
	}

	c.io.Println()
	q := st.Queue
	if q.Pending+q.Syncing == 0 && q.Failed == 0 {
		c.io.Println("✓ All changes synchronized with server")
		return nil
	}
	if q.Pending+q.Syncing > 0 {
		c.io.Printf("⚠️  Pending sync: %d operation(s) waiting to be sent\n", q.Pending+q.Syncing)
	}
	if q.Failed > 0 {
		c.io.Printf("⚠️  Failed: %d operation(s) rejected by the server\n", q.Failed)
		c.io.Println("Run 'gophsync retry-failed' to queue them again.")
	}
	return nil
}

func (c *Cli) runCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep the scope in sync until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.cfg.RequireToken(); err != nil {
				return err
			}
			return c.run(cmd.Context(), metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func (c *Cli) run(ctx context.Context, metricsAddr string) error {
	reg := prometheus.NewRegistry()
	metrics, err := events.NewMetricsSink(reg)
	if err != nil {
		return err
	}
	sink := events.Fanout{events.NewLogSink(c.logger), metrics}

	registry := engine.NewRegistry(func(ctx context.Context, scope string) (*engine.Engine, error) {
		cfg := ScopeConfig(c.cfg, scope)
		scoped := &Cli{io: c.io, cfg: cfg, logger: c.logger, passphraseFile: c.passphraseFile}
		env, err := scoped.env(sink)
		if err != nil {
			return nil, err
		}
		return c.open(ctx, cfg, env)
	}, c.logger)
	defer func() {
		if err := registry.Dispose(); err != nil {
			c.logger.Error("Failed to close engines", "error", err)
		}
	}()

	e, err := registry.Open(ctx, c.cfg.Scope)
	if err != nil {
		return err
	}
	c.io.Printf("Syncing scope %s as device %s. Press Ctrl+C to stop.\n", e.Scope(), e.DeviceID())

	g, gctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			c.logger.Info("Serving metrics", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()

	// снимок состояния перед выходом
	if st, serr := e.Status(context.Background()); serr == nil {
		c.io.Printf("Stopped at cursor %d, %d operation(s) pending.\n", st.Cursor, st.Queue.Pending+st.Queue.Syncing)
	}
	return err
}

func (c *Cli) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// версия не требует конфигурации
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(*cobra.Command, []string) {
			c.io.Println("gophsync client")
			c.io.Printf("Version:    %s\n", c.version.Version)
			c.io.Printf("Build Date: %s\n", c.version.BuildDate)
			c.io.Printf("Git Commit: %s\n", c.version.GitCommit)
		},
	}
}

// ScopeConfig returns a copy of cfg bound to another scope.
func ScopeConfig(cfg *config.ClientConfig, scope string) *config.ClientConfig {
	out := *cfg
	out.Scope = scope
	return &out
}
