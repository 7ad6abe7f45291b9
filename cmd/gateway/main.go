// Package main runs the feed gateway: an x402 payment-gated proxy in front
// of provider-registered upstream APIs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/livefeed-labs/feed-gateway/internal/app"
	"github.com/livefeed-labs/feed-gateway/internal/app/httpapi"
	"github.com/livefeed-labs/feed-gateway/internal/app/metrics"
	"github.com/livefeed-labs/feed-gateway/internal/config"
	"github.com/livefeed-labs/feed-gateway/internal/middleware"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	application, err := app.New(cfg, app.Stores{}, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	apiLimiter := middleware.NewRateLimiter(cfg.APIRate.RequestsPerSecond, cfg.APIRate.Burst, log)
	if err := application.Attach(apiLimiter); err != nil {
		return fmt.Errorf("attach api limiter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	router := httpapi.NewRouter(application, apiLimiter)

	var handler http.Handler = router
	handler = metrics.InstrumentHandler(handler)
	handler = middleware.NewCORSMiddleware([]string{"*"}).Handler(handler)
	handler = middleware.NewTracingMiddleware(log).Handler(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).
			WithField("network", cfg.Payment.Network).
			WithField("paymentGate", cfg.Payment.Enabled).
			Info("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}

	log.Info("gateway stopped")
	return nil
}
