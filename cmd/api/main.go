package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/registration-service/internal/api/http"
	"github.com/spec-kit/registration-service/internal/api/http/handlers"
	"github.com/spec-kit/registration-service/internal/auth"
	"github.com/spec-kit/registration-service/internal/bootstrap"
	"github.com/spec-kit/registration-service/internal/config"
	"github.com/spec-kit/registration-service/internal/dispatch"
	"github.com/spec-kit/registration-service/internal/events"
	"github.com/spec-kit/registration-service/internal/observability"
	"github.com/spec-kit/registration-service/internal/service"
	"github.com/spec-kit/registration-service/internal/tokens"
	"github.com/spec-kit/registration-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, err := bootstrap.OpenStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer storage.Close()

	metrics := observability.NewMetrics()
	eventBus := events.NewInMemoryDispatcher(logger)
	worker.SubscribeReviewEvents(eventBus, metrics, logger)

	tokenStore := tokens.NewStore(storage.Tokens, cfg.Review.TokenDigestKey, tokens.WithLogger(logger))
	reviewService := service.NewReviewService(service.ReviewDependencies{
		TxManager:        storage.Tx,
		RegistrationRepo: storage.Registrations,
		OutboxRepo:       storage.Outbox,
		Tokens:           tokenStore,
		Authorizer:       auth.NewRoleAuthorizer(),
		Dispatcher:       eventBus,
		Logger:           logger.Named("review"),
		Config:           cfg.Review,
		PublicBaseURL:    cfg.App.PublicBaseURL,
	})

	dispatchCfg := dispatch.ConfigFrom(cfg.Email, cfg.Dispatch)
	if err := dispatchCfg.Validate(); err != nil {
		logger.Fatal("invalid dispatch configuration", zap.Error(err))
	}
	dispatcher := bootstrap.NewDispatcher(storage, cfg, metrics, logger)
	runTimeout := time.Duration(cfg.Dispatch.RunTimeoutSeconds) * time.Second

	if cfg.Dispatch.Secret == "" {
		logger.Warn("DISPATCH_SECRET not provided; /dispatch-emails rejects every request")
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	app := httptransport.NewApp(cfg.App.Name, logger, cfg.App.RequestTimeout(), httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, storage.Readiness()),
		Registrations:  handlers.NewRegistrationsHandler(reviewService),
		Update:         handlers.NewUpdateHandler(reviewService),
		Dispatch:       handlers.NewDispatchHandler(dispatcher, dispatchCfg, cfg.Dispatch.Secret, runTimeout),
		Metrics:        metrics,
		AuthMiddleware: auth.NewAuthMiddleware(tokenManager),
	})

	dispatchWorker := worker.NewDispatchWorker(dispatcher, dispatchCfg, cfg.Dispatch.Interval(), runTimeout, logger)
	go dispatchWorker.Start(ctx)

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
