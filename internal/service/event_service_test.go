package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/repository"
)

func newEventFixture(t *testing.T, db *gorm.DB, chat *stubChat, sender *stubSender) EventService {
	t.Helper()
	logger := zerolog.Nop()
	templates := NewTemplateService(repository.NewTemplateRepository(db), logger)
	enrollments := NewEnrollmentService(repository.NewEnrollmentRepository(db), logger)

	var chatGateway ChatGateway
	if chat != nil {
		chatGateway = chat
	}
	var whatsapp MessageSender
	if sender != nil {
		whatsapp = sender
	}

	return NewEventService(
		repository.NewEventRepository(db),
		repository.NewStudentRepository(db),
		templates,
		enrollments,
		chatGateway,
		whatsapp,
		logger,
	)
}

func TestRetryGuardsOutcomeAndType(t *testing.T) {
	db := setupTestDB(t)
	svc := newEventFixture(t, db, &stubChat{}, &stubSender{})

	student := models.Student{Name: "Maria", Email: "maria@example.com"}
	require.NoError(t, db.Create(&student).Error)

	processed := models.Event{
		Type:     models.EventMessageSent,
		TargetID: &student.ID,
		Outcome:  models.OutcomeProcessed,
	}
	require.NoError(t, db.Create(&processed).Error)

	_, err := svc.Retry(context.Background(), processed.ID, 1)
	require.ErrorIs(t, err, ErrEventNotFailed)

	transition := models.Event{
		Type:     models.EventLifecycleTransition,
		TargetID: &student.ID,
		Outcome:  models.OutcomeFailed,
	}
	require.NoError(t, db.Create(&transition).Error)

	_, err = svc.Retry(context.Background(), transition.ID, 1)
	require.ErrorIs(t, err, ErrEventNotRetryable)

	orphan := models.Event{
		Type:    models.EventMessageSent,
		Outcome: models.OutcomeFailed,
	}
	require.NoError(t, db.Create(&orphan).Error)

	_, err = svc.Retry(context.Background(), orphan.ID, 1)
	require.ErrorIs(t, err, ErrEventNotRetryable)

	// guard rejections leave no audit trace
	require.Zero(t, countEvents(t, db, models.EventAdminManualRetry))
}

func TestRetryMessageSentRecordsMarkerAndFreshOutcome(t *testing.T) {
	db := setupTestDB(t)
	sender := &stubSender{}
	svc := newEventFixture(t, db, &stubChat{}, sender)

	student := models.Student{Name: "Maria Silva", Email: "maria@example.com", WhatsappPhone: strPtr("5511999990000")}
	require.NoError(t, db.Create(&student).Error)

	original := models.Event{
		Type:     models.EventMessageSent,
		TargetID: &student.ID,
		Outcome:  models.OutcomeFailed,
		Error:    "transport reported failure",
		Payload:  datatypes.JSONMap{"kind": models.TemplateWelcome},
	}
	require.NoError(t, db.Create(&original).Error)

	actorID := uint(7)
	fresh, err := svc.Retry(context.Background(), original.ID, actorID)
	require.NoError(t, err)
	require.Equal(t, models.EventMessageSent, fresh.Type)
	require.Equal(t, models.OutcomeProcessed, fresh.Outcome)
	require.Equal(t, actorID, *fresh.ActorID)

	require.Len(t, sender.sent, 1)
	require.Equal(t, "5511999990000", sender.sent[0].Phone)
	require.Contains(t, sender.sent[0].Text, "Maria")

	// original row stays untouched; the retry adds a marker plus an outcome
	var reloaded models.Event
	require.NoError(t, db.First(&reloaded, original.ID).Error)
	require.Equal(t, models.OutcomeFailed, reloaded.Outcome)

	var marker models.Event
	require.NoError(t, db.Where("type = ?", models.EventAdminManualRetry).First(&marker).Error)
	require.Equal(t, student.ID, *marker.TargetID)
	require.EqualValues(t, original.ID, marker.Payload["original_event_id"])
}

func TestRetryChatRoleWithoutChatIDFailsAgain(t *testing.T) {
	db := setupTestDB(t)
	chat := &stubChat{}
	svc := newEventFixture(t, db, chat, &stubSender{})

	student := models.Student{Name: "Maria", Email: "maria@example.com"}
	require.NoError(t, db.Create(&student).Error)

	original := models.Event{
		Type:     models.EventChatRoleAssigned,
		TargetID: &student.ID,
		Outcome:  models.OutcomeFailed,
		Payload:  datatypes.JSONMap{"role_id": "role-a"},
	}
	require.NoError(t, db.Create(&original).Error)

	fresh, err := svc.Retry(context.Background(), original.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeFailed, fresh.Outcome)
	require.Equal(t, "student has no chat id", fresh.Error)
	require.Empty(t, chat.assigned)
}

func TestRetryClassEnrolledReplaysEnrolment(t *testing.T) {
	db := setupTestDB(t)
	svc := newEventFixture(t, db, &stubChat{}, &stubSender{})

	class := models.Class{Name: "Turma 1"}
	require.NoError(t, db.Create(&class).Error)
	student := models.Student{Name: "Maria", Email: "maria@example.com"}
	require.NoError(t, db.Create(&student).Error)

	original := models.Event{
		Type:     models.EventClassEnrolled,
		TargetID: &student.ID,
		Outcome:  models.OutcomeFailed,
		Payload:  datatypes.JSONMap{"class_id": "1"},
	}
	require.NoError(t, db.Create(&original).Error)

	fresh, err := svc.Retry(context.Background(), original.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeProcessed, fresh.Outcome)

	var enrolment models.Enrollment
	require.NoError(t, db.Where("class_id = ? AND student_id = ?", class.ID, student.ID).First(&enrolment).Error)
}
