package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Myrient-Search/Myrient-Search/internal/config"
	"github.com/Myrient-Search/Myrient-Search/internal/logging"
	"github.com/Myrient-Search/Myrient-Search/internal/scheduler"
	"github.com/Myrient-Search/Myrient-Search/internal/server"
)

// newServeCmd creates the serve command: the long-running service with the
// search API, admin surface and cron scheduler.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the search API and admin server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	cleanup, err := logging.Setup(logging.Config{
		Level:    cfg.Logging.Level,
		FilePath: cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	sched := scheduler.New(cfg.SchedulePath(), app.pipe)
	if err := sched.Load(ctx); err != nil {
		slog.Warn("load schedule config", "error", err)
	}
	sched.Start()
	defer sched.Stop()
	if err := sched.Watch(ctx); err != nil {
		slog.Warn("watch schedule config", "error", err)
	}

	handler := server.New(app.store, app.index, app.pipe, sched, cfg.Server.AdminKey).Handler()
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Let an active run settle before closing the stores.
	if err := app.pipe.Stop(); err == nil {
		app.pipe.Wait()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	return nil
}
