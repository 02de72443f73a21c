package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/aluno-go-api/internal/dto"
	"github.com/noah-isme/aluno-go-api/internal/repository"
	"github.com/noah-isme/aluno-go-api/internal/service"
	"github.com/noah-isme/aluno-go-api/internal/utils"
)

// AdminStudentHandler exposes student listings and the sales sync endpoints.
type AdminStudentHandler struct {
	students  repository.StudentRepository
	sync      service.SalesSyncService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAdminStudentHandler constructs the handler. The sync service may be nil
// when sales credentials are not configured.
func NewAdminStudentHandler(students repository.StudentRepository, sync service.SalesSyncService, validate *validator.Validate, logger zerolog.Logger) *AdminStudentHandler {
	return &AdminStudentHandler{
		students:  students,
		sync:      sync,
		validator: validate,
		logger:    logger.With().Str("component", "admin_student_handler").Logger(),
	}
}

// Register attaches routes.
func (h *AdminStudentHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("/sync", h.startSync)
	router.Get("/sync/:task_id", h.pollSync)
}

func (h *AdminStudentHandler) list(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	students, total, err := h.students.List(c.Context(), repository.StudentFilter{
		LifecycleState: c.Query("lifecycle_state"),
		Query:          c.Query("q"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list students")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list students")
	}

	items := make([]dto.AdminStudentItem, 0, len(students))
	for _, student := range students {
		items = append(items, dto.NewAdminStudentItem(student))
	}

	return utils.SendSuccess(c, "students retrieved", fiber.Map{
		"items": items,
		"total": total,
	})
}

func (h *AdminStudentHandler) startSync(c *fiber.Ctx) error {
	if h.sync == nil {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "sales sync is not configured")
	}

	var req dto.SyncRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "kind must be one of buyers, lifecycle, historical")
	}

	taskID, err := h.sync.Enqueue(c.Context(), req.Kind, req.ProductID)
	if err != nil {
		h.logger.Error().Err(err).Str("kind", req.Kind).Msg("failed to enqueue sync")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to start sync")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "sync queued", dto.SyncAccepted{TaskID: taskID})
}

func (h *AdminStudentHandler) pollSync(c *fiber.Ctx) error {
	if h.sync == nil {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "sales sync is not configured")
	}

	progress, err := h.sync.Progress(c.Context(), c.Params("task_id"))
	if err != nil {
		if errors.Is(err, service.ErrSyncTaskNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "sync task not found")
		}
		h.logger.Error().Err(err).Msg("failed to load sync task")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load sync task")
	}

	return utils.SendSuccess(c, "sync task retrieved", progress)
}
