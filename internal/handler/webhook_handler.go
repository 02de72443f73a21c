package handler

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/aluno-go-api/internal/dto"
	"github.com/noah-isme/aluno-go-api/internal/service"
)

// webhookSecretHeader carries the shared secret the sales platform sends.
const webhookSecretHeader = "X-Sales-Hottok"

// WebhookHandler admits sales-platform notifications.
type WebhookHandler struct {
	service service.WebhookService
	secret  string
	logger  zerolog.Logger
}

// NewWebhookHandler constructs the handler.
func NewWebhookHandler(service service.WebhookService, secret string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		secret:  secret,
		logger:  logger.With().Str("component", "webhook_handler").Logger(),
	}
}

// Register attaches routes.
func (h *WebhookHandler) Register(router fiber.Router) {
	router.Post("/sales", h.intake)
}

func (h *WebhookHandler) intake(c *fiber.Ctx) error {
	// the secret check must run before any payload parse
	if c.Get(webhookSecretHeader) != h.secret {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"received": false,
			"message":  "invalid webhook signature",
		})
	}

	var payload dto.SalesWebhookPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"received": false,
			"message":  "invalid payload",
		})
	}

	response, err := h.service.Intake(c.Context(), payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", payload.Event).Msg("webhook intake failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"received": false,
			"message":  "intake failed",
		})
	}

	return c.Status(fiber.StatusOK).JSON(response)
}
