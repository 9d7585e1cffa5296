// Package main is the entry point for the switchyard server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Connect to PostgreSQL via pgxpool and apply migrations.
//  3. Create the repository and service (eagerly loading the definition snapshot).
//  4. Wire up the API key token validator.
//  5. Start the HTTP server.
//  6. Wait for SIGINT/SIGTERM, then gracefully shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/switchyard-io/switchyard/internal/config"
	"github.com/switchyard-io/switchyard/internal/logging"
	"github.com/switchyard-io/switchyard/internal/metrics"
	"github.com/switchyard-io/switchyard/internal/middleware"
	"github.com/switchyard-io/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/internal/server"
	"github.com/switchyard-io/switchyard/internal/service"
	"github.com/switchyard-io/switchyard/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		return err
	}

	repo := repository.NewPostgresRepository(pool)
	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	svc, err := service.New(ctx, repo,
		service.WithResyncInterval(cfg.CacheResyncInterval),
		service.WithCacheMetrics(m.IncCacheLoads, m.IncCacheInvalidations, m.SetCacheSize),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	authRateLimiter := middleware.NewRateLimiter(ctx, cfg.AuthRateLimit)
	defer authRateLimiter.Stop()

	tokenValidator := &apiKeyTokenValidator{lookup: repo}
	apiHandler := server.NewHTTPHandler(svc,
		server.WithMetrics(m),
		server.WithMaxBodyBytes(cfg.MaxJSONBodySize),
		server.WithPlaygroundLimits(cfg.PlaygroundMaxCombinations, cfg.PlaygroundWorkers),
	)
	httpHandler := newHTTPHandler(apiHandler, m, tokenValidator,
		middleware.WithOnAuthFailure(m.AuthFailuresTotal.Inc),
		middleware.WithRateLimiter(authRateLimiter),
	)
	httpHandler = middleware.RequestLogging(log)(httpHandler)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(httpHandler, "switchyard-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	log.Info("server started", "http_addr", cfg.HTTPAddr)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	return serveErr
}

func newHTTPHandler(apiHandler http.Handler, m *metrics.Metrics, tokenValidator middleware.TokenValidator, opts ...middleware.AuthOption) http.Handler {
	protectedAPIHandler := middleware.BearerAuth(tokenValidator, opts...)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedAPIHandler)
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", m.Handler())

	return mux
}

type apiKeyHashLookup interface {
	ValidateAPIKey(ctx context.Context, id string) (string, string, error)
}

type apiKeyTokenValidator struct {
	lookup apiKeyHashLookup
}

func (v *apiKeyTokenValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	if v == nil || v.lookup == nil {
		return "", errors.New("api key validator is nil")
	}

	keyID, rawSecret, found := strings.Cut(token, ".")
	if !found || strings.TrimSpace(keyID) == "" || rawSecret == "" {
		return "", errors.New("invalid token format")
	}

	keyHash, project, err := v.lookup.ValidateAPIKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("lookup key hash: %w", err)
	}
	if !middleware.APIKeyMatchesHash(keyHash, rawSecret) {
		return "", errors.New("invalid token")
	}

	return project, nil
}
