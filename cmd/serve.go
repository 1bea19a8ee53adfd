package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chatqd/chatqd/internal/api"
	"github.com/chatqd/chatqd/internal/config"
	"github.com/chatqd/chatqd/internal/log"
	"github.com/chatqd/chatqd/internal/observability"
	"github.com/chatqd/chatqd/internal/router"
	"github.com/chatqd/chatqd/internal/store"
	"github.com/chatqd/chatqd/internal/tools"
	"github.com/chatqd/chatqd/internal/worker"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 10 * time.Minute // SSE streams outlive normal requests
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// runServe initializes and starts the HTTP API server together with the
// worker and the output router.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr, err := parseServeAddr()
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}
	if addr == "" {
		addr = cfg.ListenAddr
	}

	logger := log.New(log.Config{Level: parseLogLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	slog.SetDefault(logger)
	logger.Info("starting chatqd", "version", Version, "config", cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer shutdownTracing()

	toolRegistry, err := tools.NewRegistry(logger)
	if err != nil {
		return fmt.Errorf("creating tool registry: %w", err)
	}

	factory := worker.OpenAIEngineFactory(worker.ClientConfig{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		RequestTimeout: cfg.RequestTimeout(),
	}, toolRegistry, logger)

	queue, err := worker.NewQueue(factory, logger)
	if err != nil {
		return fmt.Errorf("creating job queue: %w", err)
	}
	queue.Start(ctx)
	defer queue.Stop()

	subscriptions := router.NewRegistry()
	rt, err := router.New(subscriptions, queue.Output(), logger)
	if err != nil {
		return fmt.Errorf("creating output router: %w", err)
	}

	routerCtx, routerCancel := context.WithCancel(context.Background())
	routerDone := make(chan struct{})
	go func() {
		rt.Run(routerCtx)
		close(routerDone)
	}()
	defer func() {
		routerCancel()
		<-routerDone
	}()

	chatStore, err := store.New(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("creating chat store: %w", err)
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:             logger,
		Queue:              queue,
		Subscriptions:      subscriptions,
		Store:              chatStore,
		DefaultModel:       cfg.DefaultModel,
		DefaultTemperature: cfg.Temperature,
		CORSOrigins:        cfg.CORSOrigins,
		TrustProxy:         cfg.TrustProxy,
		RateLimitPerMinute: float64(cfg.RateLimitPerMinute),
		RateLimitBurst:     cfg.RateLimitBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"chat", "POST /chat",
		"stream", "GET /stream/{job_id}",
		"history", "/api/chats",
		"health", "/health",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// parseLogLevel maps the configured level name to a slog level. Unknown
// names fall back to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
