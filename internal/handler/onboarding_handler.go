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

// OnboardingHandler turns a valid onboarding token plus a chat identity into
// an active student.
type OnboardingHandler struct {
	tokens    service.TokenService
	lifecycle service.LifecycleService
	students  repository.StudentRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewOnboardingHandler constructs the handler.
func NewOnboardingHandler(tokens service.TokenService, lifecycle service.LifecycleService, students repository.StudentRepository, validate *validator.Validate, logger zerolog.Logger) *OnboardingHandler {
	return &OnboardingHandler{
		tokens:    tokens,
		lifecycle: lifecycle,
		students:  students,
		validator: validate,
		logger:    logger.With().Str("component", "onboarding_handler").Logger(),
	}
}

// Register attaches routes.
func (h *OnboardingHandler) Register(router fiber.Router) {
	router.Post("/chat", h.registerChat)
}

func (h *OnboardingHandler) registerChat(c *fiber.Ctx) error {
	var req dto.ChatOnboardingRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "token and chat_id are required")
	}

	student, err := h.tokens.Consume(c.Context(), req.Token)
	if err != nil {
		if errors.Is(err, service.ErrTokenInvalid) {
			return utils.SendError(c, fiber.StatusUnprocessableEntity, "token is invalid or expired")
		}
		h.logger.Error().Err(err).Msg("token consumption failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to verify token")
	}

	student.ChatID = &req.ChatID
	if err := h.students.Save(c.Context(), &student); err != nil {
		h.logger.Error().Err(err).Uint("student_id", student.ID).Msg("failed to store chat identity")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to register chat identity")
	}

	result, err := h.lifecycle.Transition(c.Context(), student.ID, service.TriggerChatRegistered, "")
	if err != nil {
		h.logger.Error().Err(err).Uint("student_id", student.ID).Msg("chat registration transition failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to activate student")
	}

	state := student.State()
	if result.Applied {
		state = result.To
	}

	return utils.SendSuccess(c, "chat identity registered", dto.ChatOnboardingResponse{
		StudentID:      student.ID,
		LifecycleState: state,
	})
}
