/*
main.go - Application entry point

COMMANDS:
  leave-engine serve     Start the HTTP API
  leave-engine migrate   Create or update the database schema and exit

CONFIGURATION:
  --config points at a YAML file (see config/config.go). LEAVE_* environment
  variables override the file, and the flags below override both.

  --port    HTTP server port
  --driver  sqlite | postgres | memory
  --db      SQLite file path or Postgres connection URL

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Drain queued notifications
  4. Close database connection

EXAMPLES:
  leave-engine serve --db ./data/leave.db
  leave-engine serve --driver memory --port 3000
  LEAVE_DB_DSN=postgres://leave@localhost/leave leave-engine migrate --driver postgres
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/timeoff"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootOptions holds flags shared by all commands.
type rootOptions struct {
	ConfigPath string
	Port       int
	Driver     string
	DSN        string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "leave-engine",
		Short:         "Leave request approval engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().IntVar(&opts.Port, "port", 0, "HTTP server port (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver: sqlite|postgres|memory (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "db", "", "database path or URL (overrides config)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

// loadConfig applies flag overrides on top of file and environment.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	if opts.DSN != "" {
		cfg.Database.DSN = opts.DSN
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := buildLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := migrate(cmd.Context(), cfg.Database); err != nil {
				return err
			}
			logger.Info("schema up to date", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	backend, err := openBackend(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer backend.Close()

	sinks := buildNotifier(cfg.Notify, logger)

	engine := timeoff.NewEngine(backend, backend,
		timeoff.WithLogger(logger),
		timeoff.WithNotifier(sinks.notifier),
		timeoff.WithChainPolicy(timeoff.ChainPolicy{MaxHops: cfg.Chain.MaxHops, Strict: cfg.Chain.Strict}),
	)

	handler := api.NewHandler(engine, backend, logger)
	if sinks.inbox != nil {
		handler.Inbox = sinks.inbox
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("driver", cfg.Database.Driver),
			zap.Bool("strict_chain", cfg.Chain.Strict),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := sinks.close(shutdownCtx); err != nil {
		logger.Warn("notification sinks did not drain", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
