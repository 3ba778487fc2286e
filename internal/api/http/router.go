package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/spec-kit/registration-service/internal/api/http/handlers"
	"github.com/spec-kit/registration-service/internal/auth"
	"github.com/spec-kit/registration-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Registrations  *handlers.RegistrationsHandler
	Update         *handlers.UpdateHandler
	Dispatch       *handlers.DispatchHandler
	Metrics        *observability.Metrics
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	app.Post("/registrations", cfg.Registrations.Create)
	app.Get("/update", cfg.Update.Validate)
	app.Post("/update", cfg.Update.Submit)
	app.Get("/dispatch-emails", cfg.Dispatch.Run)

	admin := app.Group("/registrations/:id")
	guard := func(h fiber.Handler) []fiber.Handler {
		return []fiber.Handler{cfg.AuthMiddleware.Handle, auth.RequireAdmin(), h}
	}
	admin.Get("", guard(cfg.Registrations.Get)...)
	admin.Post("/request-update", guard(cfg.Registrations.RequestUpdate)...)
	admin.Post("/mark-pass", guard(cfg.Registrations.MarkPass)...)
	admin.Post("/approve", guard(cfg.Registrations.Approve)...)
	admin.Post("/reject", guard(cfg.Registrations.Reject)...)
}

// NewApp builds the fiber app with middlewares and routes registered.
func NewApp(appName string, logger *zap.Logger, requestTimeout time.Duration, routes RouteConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
	})
	RegisterMiddlewares(app, logger, routes.Metrics, requestTimeout)
	RegisterRoutes(app, routes)
	app.Use(func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})
	return app
}
