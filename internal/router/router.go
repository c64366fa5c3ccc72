package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-assessment-api/internal/config"
	"github.com/noah-isme/gema-assessment-api/internal/handler"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler   *handler.SubmissionHandler
	CodeHandler         *handler.CodeHandler
	DesignHandler       *handler.DesignHandler
	XPHandler           *handler.XPHandler
	NotificationHandler *handler.NotificationHandler
	RealtimeHandler     *handler.RealtimeHandler
	HealthProbes        map[string]handler.HealthProbe
	JWTMiddleware       fiber.Handler
	CodeSubmitLimiter   fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	health := handler.HealthCheck(cfg, deps.HealthProbes)
	app.Get("/health", health)
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", health)

	// The websocket authenticates from its query token, ahead of the bearer groups.
	if deps.RealtimeHandler != nil {
		deps.RealtimeHandler.Register(api)
	}

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	submissions := api.Group("/submissions", jwtMiddleware)
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(submissions)
	}
	if deps.CodeHandler != nil {
		deps.CodeHandler.RegisterSubmit(submissions, deps.CodeSubmitLimiter)
		deps.CodeHandler.Register(api.Group("/code", jwtMiddleware))
	}
	if deps.DesignHandler != nil {
		deps.DesignHandler.RegisterSubmit(submissions)
		deps.DesignHandler.Register(api.Group("/design", jwtMiddleware))
	}

	if deps.XPHandler != nil {
		deps.XPHandler.Register(api.Group("/xp", jwtMiddleware))
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(api.Group("/notifications", jwtMiddleware))
	}
}
