package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/aluno-go-api/internal/config"
	"github.com/noah-isme/aluno-go-api/internal/handler"
	"github.com/noah-isme/aluno-go-api/internal/middleware"
	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	WebhookHandler       *handler.WebhookHandler
	OnboardingHandler    *handler.OnboardingHandler
	MessagingHandler     *handler.MessagingHandler
	AdminEventHandler    *handler.AdminEventHandler
	AdminStudentHandler  *handler.AdminStudentHandler
	AdminTemplateHandler *handler.AdminTemplateHandler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	if deps.WebhookHandler != nil {
		webhooks := app.Group("/webhooks")
		deps.WebhookHandler.Register(webhooks)
	}

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	if deps.OnboardingHandler != nil {
		onboarding := api.Group("/onboarding")
		deps.OnboardingHandler.Register(onboarding)
	}

	adminOnly := []fiber.Handler{
		middleware.JWTProtected(cfg.AdminSecret),
		middleware.RequireRole(models.RoleAdmin),
	}

	admin := app.Group("/admin", adminOnly...)
	if deps.AdminEventHandler != nil {
		deps.AdminEventHandler.Register(admin.Group("/events"))
	}
	if deps.AdminStudentHandler != nil {
		deps.AdminStudentHandler.Register(admin.Group("/students"))
	}
	if deps.AdminTemplateHandler != nil {
		deps.AdminTemplateHandler.Register(admin.Group("/templates"))
	}

	if deps.MessagingHandler != nil {
		messaging := app.Group("/messaging", adminOnly...)
		deps.MessagingHandler.Register(messaging)
	}
}
