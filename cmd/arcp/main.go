// Command arcp runs the Agent Registry & Control Protocol server.
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

	"github.com/arcp-io/arcp/internal/auth"
	"github.com/arcp-io/arcp/internal/bus"
	"github.com/arcp-io/arcp/internal/config"
	"github.com/arcp-io/arcp/internal/embedding"
	"github.com/arcp-io/arcp/internal/metrics"
	"github.com/arcp-io/arcp/internal/ratelimit"
	"github.com/arcp-io/arcp/internal/registry/handler"
	"github.com/arcp-io/arcp/internal/registry/service"
	"github.com/arcp-io/arcp/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:           "arcp",
		Short:         "ARCP agent registry server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the registry server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", config.ServiceName, config.ServiceVersion)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Storage ──────────────────────────────────────────────────────────────
	var backend storage.Backend
	switch {
	case cfg.Redis.Configured():
		backend = storage.NewRedisBackend(cfg.Redis)
		logger.Info("storage backend: redis", zap.String("addr", cfg.Redis.Addr()))
	case cfg.Postgres.Configured():
		pg, err := storage.NewPostgresBackend(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		backend = pg
		logger.Info("storage backend: postgres")
	default:
		logger.Warn("no storage backend configured, state will not survive restarts")
	}

	adapter := storage.NewAdapter(backend, cfg.Redis.HealthCheckInterval, logger)
	defer adapter.Close() //nolint:errcheck

	// ── Embedding provider ───────────────────────────────────────────────────
	var embedder embedding.Provider
	if cfg.Azure.Configured() {
		embedder = embedding.NewCachingProvider(embedding.NewAzureProvider(cfg.Azure, logger), 0)
		logger.Info("embedding provider: azure openai", zap.String("deployment", cfg.Azure.Deployment))
	} else {
		embedder = embedding.NewNullProvider()
		logger.Info("embedding provider: none, search uses lexical ranking")
	}

	// ── Core services ────────────────────────────────────────────────────────
	m := metrics.New()
	events := bus.New(0, logger)

	store := service.NewStore(adapter, logger)
	if err := store.Load(ctx); err != nil {
		logger.Warn("could not restore registry state", zap.Error(err))
	}
	registry := service.NewRegistry(cfg, store, embedder, events, m, logger)

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.JWTExpireMinutes)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	sessions := auth.NewSessionManager(adapter, cfg.SessionTimeout)
	creds := auth.NewCredentials(cfg.AdminUsername, cfg.AdminPassword)
	limiter := ratelimit.NewLimiter(adapter, ratelimit.Options{ProgressiveDelay: true}, logger)
	mw := auth.NewMiddleware(tokens, sessions, limiter)

	// ── Handlers ─────────────────────────────────────────────────────────────
	handlers := handler.Handlers{
		Auth:   handler.NewAuthHandler(cfg, tokens, sessions, creds, limiter, mw, registry, m, logger),
		Agents: handler.NewAgentHandler(registry, tokens, mw, logger),
		Public: handler.NewPublicHandler(cfg, registry, logger),
		WS:     handler.NewWSHandler(cfg, registry, events, m, logger),
		Health: handler.NewHealthHandler(registry, adapter, embedder, mw),
	}
	router := handler.NewRouter(cfg, m, handlers, logger)

	// ── Background loops ─────────────────────────────────────────────────────
	go registry.RunCleanup(ctx)
	go limiter.Run(ctx, time.Minute)
	go func() {
		ticker := time.NewTicker(cfg.SessionTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessions.Cleanup(ctx); n > 0 {
					logger.Debug("pruned expired sessions", zap.Int("removed", n))
				}
			}
		}
	}()

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("arcp listening",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("arcp stopped")
	return nil
}
