package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/dto"
	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/observability"
	"github.com/noah-isme/aluno-go-api/internal/queue"
	"github.com/noah-isme/aluno-go-api/internal/repository"
	"github.com/noah-isme/aluno-go-api/pkg/whatsapp"
)

// webhookTriggers maps the supported sales event kinds onto lifecycle
// triggers. Kinds outside this map are recorded and ignored.
var webhookTriggers = map[string]Trigger{
	"PURCHASE_APPROVED":         TriggerPurchaseApproved,
	"PURCHASE_DELAYED":          TriggerPurchaseDelayed,
	"PURCHASE_REFUNDED":         TriggerPurchaseRefunded,
	"SUBSCRIPTION_CANCELLATION": TriggerSubscriptionCancelled,
}

// WebhookService admits sales-platform notifications and processes them
// asynchronously. Intake runs on the request plane and must stay fast; the
// lifecycle work happens in ProcessEvent on a queue worker.
type WebhookService interface {
	Intake(ctx context.Context, payload dto.SalesWebhookPayload) (dto.WebhookResponse, error)
	ProcessEvent(ctx context.Context, eventID uint) error
}

type webhookService struct {
	events    repository.EventRepository
	students  repository.StudentRepository
	lifecycle LifecycleService
	publisher queue.Publisher
	async     bool
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewWebhookService constructs the webhook dispatcher. When async is false
// (processing disabled in configuration) intake only records events.
func NewWebhookService(events repository.EventRepository, students repository.StudentRepository, lifecycle LifecycleService, publisher queue.Publisher, async bool, logger zerolog.Logger) WebhookService {
	return &webhookService{
		events:    events,
		students:  students,
		lifecycle: lifecycle,
		publisher: publisher,
		async:     async,
		logger:    logger.With().Str("component", "webhook_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/aluno-go-api/internal/service/webhook"),
	}
}

func (s *webhookService) Intake(ctx context.Context, payload dto.SalesWebhookPayload) (dto.WebhookResponse, error) {
	ctx, span := s.tracer.Start(ctx, "webhook.intake", trace.WithAttributes(
		attribute.String("event_kind", payload.Event),
	))
	defer span.End()

	kind := strings.ToUpper(strings.TrimSpace(payload.Event))
	eventType := "sales." + strings.ToLower(kind)
	transactionID := strings.TrimSpace(payload.Data.Purchase.Transaction)

	if transactionID != "" {
		exists, err := s.events.ExistsSalesTransaction(ctx, eventType, transactionID)
		if err != nil {
			return dto.WebhookResponse{}, fmt.Errorf("check webhook idempotency: %w", err)
		}
		if exists {
			observability.WebhookEvents().WithLabelValues(kind, "duplicate").Inc()
			return dto.WebhookResponse{Received: true, Message: "duplicate"}, nil
		}
	}

	_, supported := webhookTriggers[kind]
	outcome := models.OutcomeProcessed
	if !supported {
		outcome = models.OutcomeIgnored
	}

	event := models.Event{
		Type:    eventType,
		Outcome: outcome,
		Payload: datatypes.JSONMap{
			"event_kind":       kind,
			"buyer_email":      strings.ToLower(strings.TrimSpace(payload.Data.Buyer.Email)),
			"buyer_name":       payload.Data.Buyer.Name,
			"buyer_phone":      payload.Data.Buyer.CheckoutPhone,
			"sales_product_id": payload.Data.Product.IDString(),
			"transaction_id":   transactionID,
		},
	}
	if err := s.events.Create(ctx, &event); err != nil {
		return dto.WebhookResponse{}, fmt.Errorf("record webhook event: %w", err)
	}

	observability.WebhookEvents().WithLabelValues(kind, outcome).Inc()

	if !supported {
		return dto.WebhookResponse{Received: true, EventID: event.ID, Message: "event kind not handled"}, nil
	}

	if s.async {
		if err := s.publisher.Publish(queue.SubjectWebhookProcess, queue.WebhookProcessJob{EventID: event.ID}); err != nil {
			// the event row is already durable; the admin retry path can
			// reprocess it, so intake still acknowledges
			s.logger.Error().Err(err).Uint("event_id", event.ID).Msg("failed to enqueue webhook processing")
		}
	}

	return dto.WebhookResponse{Received: true, EventID: event.ID}, nil
}

// ProcessEvent resolves the student referenced by a recorded intake event,
// runs the lifecycle transition and settles the event row's outcome.
func (s *webhookService) ProcessEvent(ctx context.Context, eventID uint) error {
	ctx, span := s.tracer.Start(ctx, "webhook.process", trace.WithAttributes(
		attribute.Int64("event_id", int64(eventID)),
	))
	defer span.End()

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load webhook event: %w", err)
	}

	kind := payloadString(event.Payload, "event_kind")
	trigger, ok := webhookTriggers[kind]
	if !ok {
		return s.events.SettleIntake(ctx, eventID, nil, models.OutcomeIgnored, "")
	}

	email := payloadString(event.Payload, "buyer_email")
	if email == "" {
		return s.events.SettleIntake(ctx, eventID, nil, models.OutcomeFailed, "payload has no buyer email")
	}

	student, err := s.resolveStudent(ctx, email, event.Payload)
	if err != nil {
		settleErr := s.events.SettleIntake(ctx, eventID, nil, models.OutcomeFailed, err.Error())
		if settleErr != nil {
			s.logger.Error().Err(settleErr).Uint("event_id", eventID).Msg("failed to settle webhook event")
		}
		return err
	}

	result, err := s.lifecycle.Transition(ctx, student.ID, trigger, payloadString(event.Payload, "sales_product_id"))
	if err != nil {
		settleErr := s.events.SettleIntake(ctx, eventID, &student.ID, models.OutcomeFailed, err.Error())
		if settleErr != nil {
			s.logger.Error().Err(settleErr).Uint("event_id", eventID).Msg("failed to settle webhook event")
		}
		return err
	}

	outcome := models.OutcomeProcessed
	if !result.Applied {
		outcome = models.OutcomeIgnored
	}

	return s.events.SettleIntake(ctx, eventID, &student.ID, outcome, "")
}

func (s *webhookService) resolveStudent(ctx context.Context, email string, payload datatypes.JSONMap) (models.Student, error) {
	student, err := s.students.GetByEmail(ctx, email)
	if err == nil {
		return student, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Student{}, fmt.Errorf("load student: %w", err)
	}

	name := payloadString(payload, "buyer_name")
	if name == "" {
		name = email
	}

	student = models.Student{
		Name:    name,
		Email:   email,
		Role:    models.RoleStudent,
		SalesID: email,
	}
	if phone := whatsapp.NormalizePhone(payloadString(payload, "buyer_phone")); phone != "" {
		student.WhatsappPhone = &phone
	}

	if err := s.students.Create(ctx, &student); err != nil {
		return models.Student{}, fmt.Errorf("create student: %w", err)
	}

	s.logger.Info().Str("email", email).Uint("student_id", student.ID).Msg("created student from webhook")

	return student, nil
}

func payloadString(payload datatypes.JSONMap, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}
