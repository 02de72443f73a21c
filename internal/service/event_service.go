package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/observability"
	"github.com/noah-isme/aluno-go-api/internal/repository"
)

// Event service errors.
var (
	ErrEventNotFailed    = errors.New("only failed events can be retried")
	ErrEventNotRetryable = errors.New("event type is not retryable")
)

// EventService exposes the audit log to admins and re-executes failed
// side-effects on demand. A retry never mutates the original row: it inserts
// an admin.manual_retry marker plus a fresh outcome event.
type EventService interface {
	List(ctx context.Context, filter repository.EventFilter) ([]models.Event, int64, error)
	Retry(ctx context.Context, eventID, actorID uint) (models.Event, error)
}

type eventService struct {
	events      repository.EventRepository
	students    repository.StudentRepository
	templates   TemplateService
	enrollments EnrollmentService
	chat        ChatGateway
	whatsapp    MessageSender
	logger      zerolog.Logger
}

// NewEventService constructs an event service.
func NewEventService(events repository.EventRepository, students repository.StudentRepository, templates TemplateService, enrollments EnrollmentService, chat ChatGateway, whatsapp MessageSender, logger zerolog.Logger) EventService {
	return &eventService{
		events:      events,
		students:    students,
		templates:   templates,
		enrollments: enrollments,
		chat:        chat,
		whatsapp:    whatsapp,
		logger:      logger.With().Str("component", "event_service").Logger(),
	}
}

func (s *eventService) List(ctx context.Context, filter repository.EventFilter) ([]models.Event, int64, error) {
	return s.events.List(ctx, filter)
}

func (s *eventService) Retry(ctx context.Context, eventID, actorID uint) (models.Event, error) {
	original, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return models.Event{}, err
	}

	if original.Outcome != models.OutcomeFailed {
		return models.Event{}, ErrEventNotFailed
	}
	if original.TargetID == nil || !isRetryable(original.Type) {
		return models.Event{}, ErrEventNotRetryable
	}

	student, err := s.students.GetByID(ctx, *original.TargetID)
	if err != nil {
		return models.Event{}, fmt.Errorf("load target student: %w", err)
	}

	marker := models.Event{
		Type:     models.EventAdminManualRetry,
		ActorID:  &actorID,
		TargetID: original.TargetID,
		Outcome:  models.OutcomeProcessed,
		Payload:  datatypes.JSONMap{"original_event_id": original.ID, "original_type": original.Type},
	}
	if err := s.events.Create(ctx, &marker); err != nil {
		return models.Event{}, fmt.Errorf("record manual retry: %w", err)
	}

	ok, execErr := s.execute(ctx, original, student)

	fresh := models.Event{
		Type:     original.Type,
		ActorID:  &actorID,
		TargetID: original.TargetID,
		Payload:  original.Payload,
	}
	if ok {
		fresh.Outcome = models.OutcomeProcessed
	} else {
		fresh.Outcome = models.OutcomeFailed
		if execErr != nil {
			fresh.Error = execErr.Error()
		} else {
			fresh.Error = "transport reported failure"
		}
	}
	observability.SideEffects().WithLabelValues("manual_retry", fresh.Outcome).Inc()

	if err := s.events.Create(ctx, &fresh); err != nil {
		return models.Event{}, fmt.Errorf("record retry outcome: %w", err)
	}

	return fresh, nil
}

func isRetryable(eventType string) bool {
	switch eventType {
	case models.EventChatRoleAssigned, models.EventChatRoleRevoked,
		models.EventClassEnrolled, models.EventClassUnenrolled,
		models.EventMessageSent:
		return true
	default:
		return false
	}
}

// execute re-runs the side-effect the original event recorded.
func (s *eventService) execute(ctx context.Context, original models.Event, student models.Student) (bool, error) {
	switch original.Type {
	case models.EventChatRoleAssigned, models.EventChatRoleRevoked:
		if s.chat == nil {
			return false, fmt.Errorf("chat transport not configured")
		}
		if student.ChatID == nil || *student.ChatID == "" {
			return false, fmt.Errorf("student has no chat id")
		}
		roleID, _ := original.Payload["role_id"].(string)
		if roleID == "" {
			return false, fmt.Errorf("event payload carries no role_id")
		}
		if original.Type == models.EventChatRoleAssigned {
			return s.chat.AssignRole(ctx, *student.ChatID, roleID), nil
		}
		return s.chat.RevokeRole(ctx, *student.ChatID, roleID), nil

	case models.EventClassEnrolled, models.EventClassUnenrolled:
		classValue, _ := original.Payload["class_id"].(string)
		classID, err := strconv.ParseUint(classValue, 10, 32)
		if err != nil {
			return false, fmt.Errorf("event payload carries no class_id")
		}
		if original.Type == models.EventClassEnrolled {
			_, err := s.enrollments.AutoEnrol(ctx, uint(classID), student.ID)
			return err == nil, err
		}
		_, err = s.enrollments.AutoUnenrol(ctx, uint(classID), student.ID)
		return err == nil, err

	case models.EventMessageSent:
		if s.whatsapp == nil {
			return false, fmt.Errorf("messaging transport not configured")
		}
		if student.WhatsappPhone == nil || *student.WhatsappPhone == "" {
			return false, fmt.Errorf("student has no whatsapp phone")
		}
		kind, _ := original.Payload["kind"].(string)
		if kind == "" {
			return false, fmt.Errorf("event payload carries no message kind")
		}
		vars := map[string]string{
			"primeiro_nome": student.FirstName(),
			"nome":          student.Name,
			"product_name":  "",
			"token":         "",
		}
		if token := student.OnboardingToken; token != nil {
			vars["token"] = *token
		}
		text := s.templates.ResolveLifecycle(ctx, kind, vars)
		return s.whatsapp.SendText(ctx, *student.WhatsappPhone, text), nil

	default:
		return false, ErrEventNotRetryable
	}
}
