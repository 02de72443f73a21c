package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/repository"
	"github.com/noah-isme/aluno-go-api/internal/service"
	"github.com/noah-isme/aluno-go-api/internal/utils"
)

// AdminEventHandler exposes the audit log and the manual side-effect retry.
type AdminEventHandler struct {
	service service.EventService
	logger  zerolog.Logger
}

// NewAdminEventHandler constructs the handler.
func NewAdminEventHandler(service service.EventService, logger zerolog.Logger) *AdminEventHandler {
	return &AdminEventHandler{
		service: service,
		logger:  logger.With().Str("component", "admin_event_handler").Logger(),
	}
}

// Register attaches routes.
func (h *AdminEventHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("/:id/retry", h.retry)
}

func (h *AdminEventHandler) list(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	filter := repository.EventFilter{
		Type:    c.Query("type"),
		Outcome: c.Query("outcome"),
		Limit:   limit,
		Offset:  offset,
	}
	if target, err := parseQueryInt(c, "target_id"); err == nil && target > 0 {
		id := uint(target)
		filter.TargetID = &id
	}

	events, total, err := h.service.List(c.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list events")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list events")
	}

	return utils.SendSuccess(c, "events retrieved", fiber.Map{
		"items": events,
		"total": total,
	})
}

func (h *AdminEventHandler) retry(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	event, err := h.service.Retry(c.Context(), id, userIDFromContext(c))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "event not found")
		case errors.Is(err, service.ErrEventNotFailed):
			return utils.SendError(c, fiber.StatusConflict, "only failed events can be retried")
		case errors.Is(err, service.ErrEventNotRetryable):
			return utils.SendError(c, fiber.StatusUnprocessableEntity, "event type does not support retry")
		}
		h.logger.Error().Err(err).Uint("event_id", id).Msg("event retry failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "event retry failed")
	}

	return utils.SendSuccess(c, "event retried", event)
}
