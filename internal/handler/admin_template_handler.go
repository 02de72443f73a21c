package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/aluno-go-api/internal/dto"
	"github.com/noah-isme/aluno-go-api/internal/service"
	"github.com/noah-isme/aluno-go-api/internal/utils"
)

// AdminTemplateHandler lets admins inspect and replace the lifecycle
// message templates.
type AdminTemplateHandler struct {
	service   service.TemplateService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAdminTemplateHandler constructs the handler.
func NewAdminTemplateHandler(service service.TemplateService, validate *validator.Validate, logger zerolog.Logger) *AdminTemplateHandler {
	return &AdminTemplateHandler{
		service:   service,
		validator: validate,
		logger:    logger.With().Str("component", "admin_template_handler").Logger(),
	}
}

// Register attaches routes.
func (h *AdminTemplateHandler) Register(router fiber.Router) {
	router.Get("/:kind", h.get)
	router.Put("/:kind", h.update)
}

func (h *AdminTemplateHandler) get(c *fiber.Ctx) error {
	template, err := h.service.Get(c.Context(), c.Params("kind"))
	if err != nil {
		return utils.SendError(c, fiber.StatusNotFound, "unknown template kind")
	}

	return utils.SendSuccess(c, "template retrieved", template)
}

func (h *AdminTemplateHandler) update(c *fiber.Ctx) error {
	var req dto.UpdateTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "template text is required")
	}

	editor := strconv.FormatUint(uint64(userIDFromContext(c)), 10)
	template, err := h.service.Update(c.Context(), c.Params("kind"), req.Template, editor)
	if err != nil {
		var templateErr *service.TemplateValidationError
		if errors.As(err, &templateErr) {
			return utils.SendError(c, fiber.StatusBadRequest, templateErr.Error())
		}
		h.logger.Error().Err(err).Str("kind", c.Params("kind")).Msg("template update failed")
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	return utils.SendSuccess(c, "template updated", template)
}
