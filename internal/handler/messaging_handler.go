package handler

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/dto"
	"github.com/noah-isme/aluno-go-api/internal/repository"
	"github.com/noah-isme/aluno-go-api/internal/service"
	"github.com/noah-isme/aluno-go-api/internal/utils"
	"github.com/noah-isme/aluno-go-api/pkg/ai"
)

// MessagingHandler exposes the admin bulk-messaging endpoints.
type MessagingHandler struct {
	campaigns  service.CampaignService
	templates  service.TemplateService
	students   repository.StudentRepository
	products   repository.ProductRepository
	variations *ai.Generator
	validator  *validator.Validate
	logger     zerolog.Logger
}

// NewMessagingHandler constructs the handler. The variation generator may be
// nil when no LLM provider is configured.
func NewMessagingHandler(campaigns service.CampaignService, templates service.TemplateService, students repository.StudentRepository, products repository.ProductRepository, variations *ai.Generator, validate *validator.Validate, logger zerolog.Logger) *MessagingHandler {
	return &MessagingHandler{
		campaigns:  campaigns,
		templates:  templates,
		students:   students,
		products:   products,
		variations: variations,
		validator:  validate,
		logger:     logger.With().Str("component", "messaging_handler").Logger(),
	}
}

// Register attaches routes.
func (h *MessagingHandler) Register(router fiber.Router) {
	router.Get("/courses", h.listCourses)
	router.Get("/recipients", h.listRecipients)
	router.Post("/send", h.send)
	router.Get("/campaigns", h.listCampaigns)
	router.Get("/campaigns/:id", h.getCampaign)
	router.Post("/campaigns/:id/retry", h.retryCampaign)
	router.Post("/variations", h.generateVariations)
}

func (h *MessagingHandler) listCourses(c *fiber.Ctx) error {
	products, err := h.products.ListActive(c.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list courses")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list courses")
	}

	courses := make([]dto.CourseOption, 0, len(products))
	for _, product := range products {
		courses = append(courses, dto.CourseOption{
			ID:             product.ID,
			Name:           product.Name,
			SalesProductID: product.SalesProductID,
		})
	}

	return utils.SendSuccess(c, "courses retrieved", courses)
}

func (h *MessagingHandler) listRecipients(c *fiber.Ctx) error {
	salesProductID := c.Query("course_id")
	hasWhatsapp := c.QueryBool("has_whatsapp")

	students, err := h.students.ListRecipients(c.Context(), salesProductID, hasWhatsapp)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list recipients")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list recipients")
	}

	options := make([]dto.RecipientOption, 0, len(students))
	for _, student := range students {
		options = append(options, dto.NewRecipientOption(student))
	}

	return utils.SendSuccess(c, "recipients retrieved", options)
}

func (h *MessagingHandler) send(c *fiber.Ctx) error {
	var req dto.SendCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "user_ids and template are required")
	}

	result, err := h.campaigns.Materialise(c.Context(), service.MaterialiseRequest{
		UserIDs:            req.UserIDs,
		Template:           req.Template,
		Variations:         req.Variations,
		ProductID:          req.ProductID,
		ThrottleMinSeconds: req.ThrottleMinSeconds,
		ThrottleMaxSeconds: req.ThrottleMaxSeconds,
		SenderID:           userIDFromContext(c),
	})
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid campaign request")
		}
		var templateErr *service.TemplateValidationError
		if errors.As(err, &templateErr) {
			return utils.SendError(c, fiber.StatusBadRequest, templateErr.Error())
		}
		h.logger.Error().Err(err).Msg("failed to materialise campaign")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to launch campaign")
	}

	message := "campaign launched"
	if result.CampaignID == 0 {
		message = "no sendable recipients"
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, message, result)
}

func (h *MessagingHandler) listCampaigns(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	campaigns, total, err := h.campaigns.List(c.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list campaigns")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list campaigns")
	}

	items := make([]dto.CampaignSummary, 0, len(campaigns))
	for _, campaign := range campaigns {
		items = append(items, dto.NewCampaignSummary(campaign))
	}

	return utils.SendSuccess(c, "campaigns retrieved", fiber.Map{
		"items": items,
		"total": total,
	})
}

func (h *MessagingHandler) getCampaign(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	campaign, recipients, err := h.campaigns.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "campaign not found")
		}
		h.logger.Error().Err(err).Uint("campaign_id", id).Msg("failed to fetch campaign")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to fetch campaign")
	}

	detail := dto.CampaignDetail{
		CampaignSummary: dto.NewCampaignSummary(campaign),
		Template:        campaign.Template,
		Recipients:      recipients,
	}

	return utils.SendSuccess(c, "campaign retrieved", detail)
}

func (h *MessagingHandler) retryCampaign(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.campaigns.Retry(c.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "campaign not found")
		}
		if errors.Is(err, service.ErrCampaignNotRetryable) {
			return utils.SendError(c, fiber.StatusConflict, "campaign has no failed recipients to retry")
		}
		h.logger.Error().Err(err).Uint("campaign_id", id).Msg("failed to retry campaign")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to retry campaign")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "campaign retry queued", fiber.Map{"campaign_id": id})
}

func (h *MessagingHandler) generateVariations(c *fiber.Ctx) error {
	if h.variations == nil {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "variation generation is not configured")
	}

	var req dto.VariationsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "template and a count between 3 and 10 are required")
	}
	if err := h.templates.Validate(service.CampaignKind, req.Template); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	variations, err := h.variations.Generate(c.Context(), req.Template, req.Count)
	if err != nil {
		h.logger.Error().Err(err).Msg("variation generation failed")
		return utils.SendError(c, fiber.StatusBadGateway, "variation generation failed")
	}

	response := dto.VariationsResponse{Variations: variations}
	if len(variations) < req.Count {
		response.Warning = fmt.Sprintf("only %d of %d variations preserved the template placeholders", len(variations), req.Count)
	}

	return utils.SendSuccess(c, "variations generated", response)
}
