package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/api"
	"github.com/docqa/backend/internal/api/handlers"
	"github.com/docqa/backend/internal/extract"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/middleware/ratelimit"
	"github.com/docqa/backend/internal/middleware/security"
	"github.com/docqa/backend/internal/middleware/validation"
	"github.com/docqa/backend/pkg/logger"
)

var serveDevelopment bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDevelopment, "dev", false, "development mode (no HSTS, access log on)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting docqa API server")
	metrics.Init()

	a, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
		KeyHeader:            handlers.OwnerHeader,
		Logger:               logger.Named("ratelimit"),
	})
	defer limiter.Stop()

	breakers := map[string]handlers.StateReporter{"store": a.storeGuard}
	if a.embedBreaker != nil {
		breakers["embedding"] = a.embedBreaker
	}

	health := handlers.NewHealthHandler(a.db, breakers)
	if a.cache != nil {
		health.WithCache(a.cache)
	}

	app := api.NewApp(api.Config{
		ReadTimeout:  seconds(cfg.Server.ReadTimeout),
		WriteTimeout: seconds(cfg.Server.WriteTimeout),
		BodyLimit:    cfg.Server.BodyLimit,
		AccessLog:    serveDevelopment,
	}, api.Dependencies{
		Documents:   handlers.NewDocumentHandler(a.coordinator),
		Queries:     handlers.NewQueryHandler(a.queryEngine),
		WebSocket:   handlers.NewWebSocketHandler(a.queryEngine),
		Health:      health,
		RateLimiter: limiter,
		Validation: validation.Config{
			OwnerHeader:       handlers.OwnerHeader,
			MaxQuestionLength: cfg.Server.MaxQuestionLength,
			MaxDocumentSize:   cfg.Server.BodyLimit,
			AllowedExtensions: extract.SupportedExtensions(),
			Logger:            logger.Named("validation"),
		},
		Security: security.HeadersConfig{IsDevelopment: serveDevelopment},
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("Server starting", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	logger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("Server shutdown incomplete", zap.Error(err))
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if !waitFor(waitCtx, a.coordinator.Wait) {
		logger.Warn("Background ingestion still running at exit")
	}

	logger.Info("Server stopped")
	return nil
}

// waitFor runs wait and reports whether it returned before ctx ended.
func waitFor(ctx context.Context, wait func()) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
