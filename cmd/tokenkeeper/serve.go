package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pysugar/tokenkeeper/internal/api"
	"github.com/pysugar/tokenkeeper/internal/auth/token"
	"github.com/pysugar/tokenkeeper/internal/version"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background refresh sweep",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	var sweeper *token.Sweeper
	if cfg.Sweep.Enabled {
		sweeper, err = token.NewSweeper(a.manager, cfg.Sweep.Schedule, cfg.Sweep.Window)
		if err != nil {
			return err
		}
		sweeper.Start()
	}

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(a.manager, api.Options{
			AdminPassword: cfg.Server.AdminPassword,
			SweepWindow:   cfg.Sweep.Window,
			Gatherer:      a.registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	displayURL := cfg.Addr()
	if strings.HasPrefix(displayURL, "0.0.0.0:") {
		displayURL = "<your-ip>:" + strings.TrimPrefix(displayURL, "0.0.0.0:")
	}
	log.Printf("🚀 tokenkeeper %s starting on http://%s", version.Version, cfg.Addr())
	log.Printf("🔑 Token API: http://%s/api/token", displayURL)
	log.Printf("📊 Metrics: http://%s/metrics", displayURL)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown server: %w", err))
	}
	if sweeper != nil {
		if err := sweeper.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop sweeper: %w", err))
		}
	}
	return errors.Join(errs...)
}
