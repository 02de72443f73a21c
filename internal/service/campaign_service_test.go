package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/queue"
	"github.com/noah-isme/aluno-go-api/internal/repository"
)

func newCampaignFixture(t *testing.T, db *gorm.DB, sender *stubSender, publisher *capturePublisher) *campaignService {
	t.Helper()

	logger := zerolog.Nop()
	students := repository.NewStudentRepository(db)
	svc := NewCampaignService(
		repository.NewCampaignRepository(db),
		students,
		repository.NewProductRepository(db),
		NewTemplateService(repository.NewTemplateRepository(db), logger),
		NewTokenService(students, logger),
		sender,
		publisher,
		validator.New(validator.WithRequiredStructEnabled()),
		logger,
	).(*campaignService)

	// no real sleeping in tests
	svc.sleep = func(ctx context.Context, d time.Duration) {}

	return svc
}

func seedStudent(t *testing.T, db *gorm.DB, name, email, phone string) models.Student {
	t.Helper()
	student := models.Student{Name: name, Email: email}
	if phone != "" {
		student.WhatsappPhone = &phone
	}
	require.NoError(t, db.Create(&student).Error)
	return student
}

func TestMaterialisePartitionsSendableAndSkipped(t *testing.T) {
	db := setupTestDB(t)
	publisher := &capturePublisher{}
	svc := newCampaignFixture(t, db, &stubSender{}, publisher)

	withPhone := seedStudent(t, db, "Com Telefone", "a@example.com", "5511999990000")
	noPhone := seedStudent(t, db, "Sem Telefone", "b@example.com", "")

	result, err := svc.Materialise(context.Background(), MaterialiseRequest{
		UserIDs:  []uint{withPhone.ID, noPhone.ID, 9999},
		Template: "Oi {nome}!",
		SenderID: 1,
	})
	require.NoError(t, err)
	require.NotZero(t, result.CampaignID)
	require.Equal(t, 1, result.RecipientCount)
	require.Len(t, result.Skipped, 2)
	require.Equal(t, "no whatsapp phone", result.Skipped[0].Reason)
	require.Equal(t, "student not found", result.Skipped[1].Reason)

	require.Equal(t, []string{queue.SubjectCampaignSend}, publisher.subjects)

	var campaign models.Campaign
	require.NoError(t, db.First(&campaign, result.CampaignID).Error)
	require.Equal(t, models.CampaignSending, campaign.Status)
	require.Equal(t, models.DefaultThrottleMinSeconds, campaign.ThrottleMinSeconds)
	require.Equal(t, models.DefaultThrottleMaxSeconds, campaign.ThrottleMaxSeconds)
}

func TestMaterialiseWithoutSendableRecipientsShortCircuits(t *testing.T) {
	db := setupTestDB(t)
	publisher := &capturePublisher{}
	svc := newCampaignFixture(t, db, &stubSender{}, publisher)

	noPhone := seedStudent(t, db, "Sem Telefone", "b@example.com", "")

	result, err := svc.Materialise(context.Background(), MaterialiseRequest{
		UserIDs:  []uint{noPhone.ID},
		Template: "Oi {nome}!",
		SenderID: 1,
	})
	require.NoError(t, err)
	require.Zero(t, result.CampaignID)
	require.Len(t, result.Skipped, 1)
	require.Empty(t, publisher.subjects)

	var count int64
	require.NoError(t, db.Model(&models.Campaign{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestMaterialiseRejectsUnknownPlaceholder(t *testing.T) {
	db := setupTestDB(t)
	svc := newCampaignFixture(t, db, &stubSender{}, &capturePublisher{})

	student := seedStudent(t, db, "Ana", "a@example.com", "5511999990000")

	_, err := svc.Materialise(context.Background(), MaterialiseRequest{
		UserIDs:  []uint{student.ID},
		Template: "Oi {cpf}!",
		SenderID: 1,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid variable {cpf}")
}

func TestMaterialiseRejectsThrottleBelowFloor(t *testing.T) {
	db := setupTestDB(t)
	svc := newCampaignFixture(t, db, &stubSender{}, &capturePublisher{})

	student := seedStudent(t, db, "Ana", "a@example.com", "5511999990000")

	_, err := svc.Materialise(context.Background(), MaterialiseRequest{
		UserIDs:            []uint{student.ID},
		Template:           "Oi {nome}!",
		ThrottleMinSeconds: 1,
		ThrottleMaxSeconds: 2,
		SenderID:           1,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least 3 seconds")
}

func TestProcessMarksPartialFailureAndRetryCompletes(t *testing.T) {
	db := setupTestDB(t)
	publisher := &capturePublisher{}
	sender := &stubSender{failFor: map[string]bool{"5511000000002": true}}
	svc := newCampaignFixture(t, db, sender, publisher)

	a := seedStudent(t, db, "Aluno Um", "um@example.com", "5511000000001")
	b := seedStudent(t, db, "Aluno Dois", "dois@example.com", "5511000000002")
	c := seedStudent(t, db, "Aluno Tres", "tres@example.com", "5511000000003")

	result, err := svc.Materialise(context.Background(), MaterialiseRequest{
		UserIDs:  []uint{a.ID, b.ID, c.ID},
		Template: "Oi {primeiro_nome}!",
		SenderID: 1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Process(context.Background(), result.CampaignID, false))

	var campaign models.Campaign
	require.NoError(t, db.First(&campaign, result.CampaignID).Error)
	require.Equal(t, models.CampaignPartialFailure, campaign.Status)
	require.Equal(t, 2, campaign.SentCount)
	require.Equal(t, 1, campaign.FailedCount)
	require.NotNil(t, campaign.CompletedAt)

	// the failed row keeps its error, the sent rows their resolved text
	var failedRow models.CampaignRecipient
	require.NoError(t, db.Where("campaign_id = ? AND status = ?", campaign.ID, models.RecipientFailed).First(&failedRow).Error)
	require.Equal(t, "transport reported failure", failedRow.Error)

	require.Len(t, sender.sent, 2)
	require.Equal(t, "Oi Aluno!", sender.sent[0].Text)

	// retry flips the failed row back to pending and re-enqueues
	sender.failFor = nil
	require.NoError(t, svc.Retry(context.Background(), campaign.ID))

	require.NoError(t, db.First(&campaign, campaign.ID).Error)
	require.Equal(t, models.CampaignSending, campaign.Status)
	require.Zero(t, campaign.FailedCount)

	job, ok := publisher.payloads[len(publisher.payloads)-1].(queue.CampaignSendJob)
	require.True(t, ok)
	require.True(t, job.OnlyPending)

	require.NoError(t, svc.Process(context.Background(), campaign.ID, true))

	require.NoError(t, db.First(&campaign, campaign.ID).Error)
	require.Equal(t, models.CampaignCompleted, campaign.Status)
	require.Equal(t, 3, campaign.SentCount)
	require.Zero(t, campaign.FailedCount)
}

func TestProcessRefreshesOnboardingTokenWhenTemplateNeedsIt(t *testing.T) {
	db := setupTestDB(t)
	sender := &stubSender{}
	svc := newCampaignFixture(t, db, sender, &capturePublisher{})

	student := seedStudent(t, db, "Pedro", "pedro@example.com", "5511000000009")

	result, err := svc.Materialise(context.Background(), MaterialiseRequest{
		UserIDs:  []uint{student.ID},
		Template: "Seu código: {token}",
		SenderID: 1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Process(context.Background(), result.CampaignID, false))

	var reloaded models.Student
	require.NoError(t, db.First(&reloaded, student.ID).Error)
	require.NotNil(t, reloaded.OnboardingToken)

	require.Len(t, sender.sent, 1)
	require.Equal(t, "Seu código: "+*reloaded.OnboardingToken, sender.sent[0].Text)
}

func TestRetryRejectsRunningCampaign(t *testing.T) {
	db := setupTestDB(t)
	svc := newCampaignFixture(t, db, &stubSender{}, &capturePublisher{})

	campaign := models.Campaign{Template: "Oi", Status: models.CampaignSending, SenderID: 1}
	require.NoError(t, db.Create(&campaign).Error)

	err := svc.Retry(context.Background(), campaign.ID)
	require.ErrorIs(t, err, ErrCampaignNotRetryable)
}

func TestThrottleDelayStaysWithinBounds(t *testing.T) {
	db := setupTestDB(t)
	svc := newCampaignFixture(t, db, &stubSender{}, &capturePublisher{})

	campaign := models.Campaign{ThrottleMinSeconds: 15, ThrottleMaxSeconds: 25}
	for i := 0; i < 50; i++ {
		delay := svc.throttleDelay(campaign)
		require.GreaterOrEqual(t, delay, 15*time.Second)
		require.Less(t, delay, 25*time.Second)
	}
}
