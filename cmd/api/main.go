package main

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

	"github.com/joho/godotenv"

	"github.com/synerchat/server/internal/auth"
	"github.com/synerchat/server/internal/chat"
	"github.com/synerchat/server/internal/config"
	"github.com/synerchat/server/internal/db"
	httphandler "github.com/synerchat/server/internal/http"
	"github.com/synerchat/server/internal/http/handlers"
	"github.com/synerchat/server/internal/middleware"
	"github.com/synerchat/server/internal/observability"
	"github.com/synerchat/server/internal/realtime"
	"github.com/synerchat/server/internal/repo"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		AddSource: cfg.DevMode,
	})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	metrics := observability.NewMetrics()
	registry := realtime.NewRegistry(cfg.SendTimeout, logger, metrics)
	router := realtime.NewRouter(registry, store.Chats, logger)

	lc := chat.NewLifecycle(store, router,
		chat.WithPolicy(chat.Policy{
			LivenessInterval: cfg.LivenessInterval,
			GraceWindow:      cfg.GraceWindow,
			RequestTTL:       cfg.RequestTTL,
		}),
		chat.WithLogger(logger),
		chat.WithMetrics(metrics),
		chat.WithTracer(observability.Tracer()),
	)
	svc := chat.NewService(lc, nil)
	consent := chat.NewConsentTracker(lc)
	scheduler := chat.NewScheduler(lc, cfg.SweepInterval)

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	requestLimiter := middleware.NewRateLimiter(time.Minute, 10)
	wsLimiter := middleware.NewRateLimiter(time.Minute, 30)
	defer requestLimiter.Close()
	defer wsLimiter.Close()

	handler := httphandler.NewRouter(httphandler.Deps{
		ChatHandler:    handlers.NewChatHandler(svc, consent, logger),
		WSHandler:      handlers.NewWSHandler(svc, router, logger),
		JWTService:     jwtService,
		UserRepo:       store.Users,
		Metrics:        metrics,
		RequestLimiter: requestLimiter,
		WSLimiter:      wsLimiter,
	})

	// WriteTimeout stays unset: upgraded websocket connections manage their
	// own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start verification scheduler: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdown(shutdownCtx, logger, srv, registry, scheduler)

	logger.Info("server exited")
	return runErr
}

// shutdown stops accepting requests and upgrades before draining the
// registry, so no connection can register after CloseAll. The scheduler
// stops last.
func shutdown(ctx context.Context, logger *slog.Logger, srv *http.Server, registry *realtime.Registry, scheduler *chat.Scheduler) {
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	registry.CloseAll()
	if err := scheduler.Stop(ctx); err != nil {
		logger.Warn("scheduler stop", "error", err)
	}
}

// openStore returns the configured store and its cleanup.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Store, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store; all data is lost on restart")
		return repo.NewMemoryStore(nil), func() {}, nil
	}

	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return repo.Store{}, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		_ = database.Close()
		return repo.Store{}, nil, fmt.Errorf("run migrations: %w", err)
	}
	return repo.NewPostgresStore(database), func() { _ = database.Close() }, nil
}
