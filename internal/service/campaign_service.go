package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/observability"
	"github.com/noah-isme/aluno-go-api/internal/queue"
	"github.com/noah-isme/aluno-go-api/internal/repository"
)

// ErrCampaignNotRetryable is returned when retry is requested for a
// campaign that is still running or finished cleanly.
var ErrCampaignNotRetryable = errors.New("campaign is not in a retryable state")

// MaterialiseRequest describes a campaign to create.
type MaterialiseRequest struct {
	UserIDs            []uint   `validate:"required,min=1"`
	Template           string   `validate:"required"`
	Variations         []string `validate:"omitempty,dive,required"`
	ProductID          *uint    `validate:"omitempty"`
	ThrottleMinSeconds int      `validate:"omitempty,min=0"`
	ThrottleMaxSeconds int      `validate:"omitempty,min=0"`
	SenderID           uint     `validate:"required"`
}

// SkippedRecipient reports a student left out of a campaign and why.
type SkippedRecipient struct {
	StudentID uint   `json:"student_id"`
	Email     string `json:"email"`
	Reason    string `json:"reason"`
}

// MaterialiseResult is returned synchronously to the admin. CampaignID is
// zero when every requested student was skipped; no async job runs then.
type MaterialiseResult struct {
	CampaignID     uint               `json:"campaign_id"`
	RecipientCount int                `json:"recipient_count"`
	Skipped        []SkippedRecipient `json:"skipped"`
}

// CampaignService materialises, processes and retries bulk-message
// campaigns. Processing is resumable: every recipient commits individually
// and a restarted worker picks up from the pending rows.
type CampaignService interface {
	Materialise(ctx context.Context, req MaterialiseRequest) (MaterialiseResult, error)
	Process(ctx context.Context, campaignID uint, onlyPending bool) error
	Retry(ctx context.Context, campaignID uint) error
	Get(ctx context.Context, id uint) (models.Campaign, []models.CampaignRecipient, error)
	List(ctx context.Context, limit, offset int) ([]models.Campaign, int64, error)
}

type campaignService struct {
	campaigns repository.CampaignRepository
	students  repository.StudentRepository
	products  repository.ProductRepository
	templates TemplateService
	tokens    TokenService
	whatsapp  MessageSender
	publisher queue.Publisher
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	rng       *rand.Rand
	sleep     func(ctx context.Context, d time.Duration)
	now       func() time.Time
}

// NewCampaignService constructs a campaign service.
func NewCampaignService(campaigns repository.CampaignRepository, students repository.StudentRepository, products repository.ProductRepository, templates TemplateService, tokens TokenService, whatsapp MessageSender, publisher queue.Publisher, validate *validator.Validate, logger zerolog.Logger) CampaignService {
	return &campaignService{
		campaigns: campaigns,
		students:  students,
		products:  products,
		templates: templates,
		tokens:    tokens,
		whatsapp:  whatsapp,
		publisher: publisher,
		validator: validate,
		logger:    logger.With().Str("component", "campaign_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/aluno-go-api/internal/service/campaign"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     sleepWithContext,
		now:       time.Now,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (s *campaignService) Materialise(ctx context.Context, req MaterialiseRequest) (MaterialiseResult, error) {
	ctx, span := s.tracer.Start(ctx, "campaign.materialise")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return MaterialiseResult{}, err
	}
	if err := s.templates.Validate(CampaignKind, req.Template); err != nil {
		return MaterialiseResult{}, err
	}
	for _, variation := range req.Variations {
		if err := s.templates.Validate(CampaignKind, variation); err != nil {
			return MaterialiseResult{}, err
		}
	}

	minThrottle, maxThrottle, err := normaliseThrottle(req.ThrottleMinSeconds, req.ThrottleMaxSeconds)
	if err != nil {
		return MaterialiseResult{}, err
	}

	courseName := ""
	if req.ProductID != nil {
		product, err := s.products.GetByID(ctx, *req.ProductID)
		if err != nil {
			return MaterialiseResult{}, fmt.Errorf("load campaign product: %w", err)
		}
		courseName = product.Name
	}

	loaded, err := s.students.GetManyByID(ctx, req.UserIDs)
	if err != nil {
		return MaterialiseResult{}, fmt.Errorf("load recipients: %w", err)
	}

	byID := make(map[uint]models.Student, len(loaded))
	for _, student := range loaded {
		byID[student.ID] = student
	}

	var recipients []models.CampaignRecipient
	var skipped []SkippedRecipient
	for _, id := range req.UserIDs {
		student, ok := byID[id]
		if !ok {
			skipped = append(skipped, SkippedRecipient{StudentID: id, Reason: "student not found"})
			continue
		}
		if student.WhatsappPhone == nil || strings.TrimSpace(*student.WhatsappPhone) == "" {
			skipped = append(skipped, SkippedRecipient{StudentID: id, Email: student.Email, Reason: "no whatsapp phone"})
			continue
		}
		recipients = append(recipients, models.CampaignRecipient{
			StudentID: student.ID,
			Phone:     *student.WhatsappPhone,
			Name:      student.Name,
			Status:    models.RecipientPending,
		})
	}

	span.SetAttributes(
		attribute.Int("recipients", len(recipients)),
		attribute.Int("skipped", len(skipped)),
	)

	if len(recipients) == 0 {
		return MaterialiseResult{RecipientCount: 0, Skipped: skipped}, nil
	}

	variations := datatypes.JSON(nil)
	if len(req.Variations) > 0 {
		encoded, err := json.Marshal(req.Variations)
		if err != nil {
			return MaterialiseResult{}, fmt.Errorf("encode variations: %w", err)
		}
		variations = datatypes.JSON(encoded)
	}

	campaign := models.Campaign{
		Template:           req.Template,
		Variations:         variations,
		ProductID:          req.ProductID,
		CourseName:         courseName,
		SenderID:           req.SenderID,
		Status:             models.CampaignSending,
		RecipientCount:     len(recipients),
		ThrottleMinSeconds: minThrottle,
		ThrottleMaxSeconds: maxThrottle,
	}
	if err := s.campaigns.CreateWithRecipients(ctx, &campaign, recipients); err != nil {
		return MaterialiseResult{}, fmt.Errorf("persist campaign: %w", err)
	}

	// exactly one async job per materialisation keeps the campaign
	// single-worker without locks
	if err := s.publisher.Publish(queue.SubjectCampaignSend, queue.CampaignSendJob{CampaignID: campaign.ID}); err != nil {
		return MaterialiseResult{}, fmt.Errorf("enqueue campaign: %w", err)
	}

	return MaterialiseResult{
		CampaignID:     campaign.ID,
		RecipientCount: len(recipients),
		Skipped:        skipped,
	}, nil
}

func normaliseThrottle(min, max int) (int, int, error) {
	if min == 0 && max == 0 {
		return models.DefaultThrottleMinSeconds, models.DefaultThrottleMaxSeconds, nil
	}
	if min < models.ThrottleFloorSeconds {
		return 0, 0, fmt.Errorf("throttle minimum must be at least %d seconds", models.ThrottleFloorSeconds)
	}
	if max < min {
		return 0, 0, fmt.Errorf("throttle maximum must not be below the minimum")
	}
	return min, max, nil
}

// Process works through the pending recipients of a campaign in insertion
// order, committing after each send and sleeping between sends. Safe to call
// again after a crash; already-settled rows are not revisited.
func (s *campaignService) Process(ctx context.Context, campaignID uint, onlyPending bool) error {
	ctx, span := s.tracer.Start(ctx, "campaign.process", trace.WithAttributes(
		attribute.Int64("campaign_id", int64(campaignID)),
		attribute.Bool("only_pending", onlyPending),
	))
	defer span.End()

	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}

	pending, err := s.campaigns.PendingRecipients(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load pending recipients: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var variations []string
	if len(campaign.Variations) > 0 {
		if err := json.Unmarshal(campaign.Variations, &variations); err != nil {
			s.logger.Error().Err(err).Uint("campaign_id", campaignID).Msg("stored variations are unreadable, using base template")
			variations = nil
		}
	}

	for i, recipient := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.processRecipient(ctx, campaign, recipient, variations)

		if i < len(pending)-1 {
			s.sleep(ctx, s.throttleDelay(campaign))
		}
	}

	final, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("reload campaign: %w", err)
	}

	status := models.CampaignPartialFailure
	switch {
	case final.FailedCount == 0:
		status = models.CampaignCompleted
	case final.SentCount == 0:
		status = models.CampaignFailed
	}

	return s.campaigns.Finish(ctx, campaignID, status, s.now())
}

func (s *campaignService) processRecipient(ctx context.Context, campaign models.Campaign, recipient models.CampaignRecipient, variations []string) {
	text := campaign.Template
	if len(variations) > 0 {
		text = variations[s.rng.Intn(len(variations))]
	}

	vars := map[string]string{
		"nome":  recipient.Name,
		"turma": campaign.CourseName,
	}

	student, err := s.students.GetByID(ctx, recipient.StudentID)
	if err != nil {
		s.fail(ctx, recipient.ID, "", fmt.Sprintf("load student: %v", err))
		return
	}
	vars["primeiro_nome"] = student.FirstName()
	vars["email"] = student.Email

	if strings.Contains(text, "{token}") {
		token, refreshed, err := s.tokens.EnsureValid(ctx, &student)
		if err != nil {
			s.fail(ctx, recipient.ID, "", fmt.Sprintf("refresh onboarding token: %v", err))
			return
		}
		if refreshed {
			s.logger.Info().Uint("student_id", student.ID).Msg("issued fresh onboarding token for campaign")
		}
		vars["token"] = token
	}

	resolved := s.templates.Resolve(text, vars)

	if s.whatsapp == nil {
		s.fail(ctx, recipient.ID, resolved, "messaging transport not configured")
		return
	}

	if s.whatsapp.SendText(ctx, recipient.Phone, resolved) {
		if err := s.campaigns.MarkSent(ctx, recipient.ID, resolved, s.now()); err != nil {
			s.logger.Error().Err(err).Uint("recipient_id", recipient.ID).Msg("failed to settle sent recipient")
		}
		observability.CampaignMessages().WithLabelValues(models.RecipientSent).Inc()
		return
	}

	s.fail(ctx, recipient.ID, resolved, "transport reported failure")
}

func (s *campaignService) fail(ctx context.Context, recipientID uint, resolved, errText string) {
	if err := s.campaigns.MarkFailed(ctx, recipientID, resolved, errText); err != nil {
		s.logger.Error().Err(err).Uint("recipient_id", recipientID).Msg("failed to settle failed recipient")
	}
	observability.CampaignMessages().WithLabelValues(models.RecipientFailed).Inc()
}

func (s *campaignService) throttleDelay(campaign models.Campaign) time.Duration {
	min := time.Duration(campaign.ThrottleMinSeconds) * time.Second
	max := time.Duration(campaign.ThrottleMaxSeconds) * time.Second
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

func (s *campaignService) Retry(ctx context.Context, campaignID uint) error {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	if campaign.Status != models.CampaignPartialFailure && campaign.Status != models.CampaignFailed {
		return ErrCampaignNotRetryable
	}

	if err := s.campaigns.ResetFailed(ctx, campaignID); err != nil {
		return fmt.Errorf("reset failed recipients: %w", err)
	}

	return s.publisher.Publish(queue.SubjectCampaignSend, queue.CampaignSendJob{
		CampaignID:  campaignID,
		OnlyPending: true,
	})
}

func (s *campaignService) Get(ctx context.Context, id uint) (models.Campaign, []models.CampaignRecipient, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return models.Campaign{}, nil, err
	}

	recipients, err := s.campaigns.ListRecipients(ctx, id)
	if err != nil {
		return models.Campaign{}, nil, err
	}

	return campaign, recipients, nil
}

func (s *campaignService) List(ctx context.Context, limit, offset int) ([]models.Campaign, int64, error) {
	return s.campaigns.List(ctx, limit, offset)
}
