package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/skillbridge-app/skillbridge-api/internal/config"
	"github.com/skillbridge-app/skillbridge-api/internal/handler"
	"github.com/skillbridge-app/skillbridge-api/internal/middleware"
	"github.com/skillbridge-app/skillbridge-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	SessionHandler      *handler.SessionHandler
	NotificationHandler *handler.NotificationHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ChatHandler != nil {
		chat := api.Group("/chat", jwtMiddleware)
		chat.Use("/messages", middleware.RateLimit("chat-send", 30, time.Minute))
		deps.ChatHandler.Register(chat)
	}

	if deps.SessionHandler != nil {
		sessions := api.Group("/mentorship/sessions", jwtMiddleware)
		deps.SessionHandler.Register(sessions)
	}

	if deps.NotificationHandler != nil {
		notifications := api.Group("/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)

		admin := notifications.Group("/", middleware.RequireRole("admin"))
		deps.NotificationHandler.RegisterPublish(admin)
	}
}
