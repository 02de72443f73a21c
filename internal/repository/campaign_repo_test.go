package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

func seedCampaign(t *testing.T, repo CampaignRepository, recipients int) models.Campaign {
	t.Helper()

	campaign := models.Campaign{
		Template:           "Oi {nome}",
		SenderID:           1,
		Status:             models.CampaignSending,
		RecipientCount:     recipients,
		ThrottleMinSeconds: models.DefaultThrottleMinSeconds,
		ThrottleMaxSeconds: models.DefaultThrottleMaxSeconds,
	}

	rows := make([]models.CampaignRecipient, 0, recipients)
	for i := 0; i < recipients; i++ {
		rows = append(rows, models.CampaignRecipient{
			StudentID: uint(i + 1),
			Phone:     "551199999000" + string(rune('0'+i)),
			Name:      "Aluno",
			Status:    models.RecipientPending,
		})
	}

	require.NoError(t, repo.CreateWithRecipients(context.Background(), &campaign, rows))
	require.NotZero(t, campaign.ID)

	return campaign
}

func TestCreateWithRecipientsLinksRowsToCampaign(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db)

	campaign := seedCampaign(t, repo, 3)

	recipients, err := repo.ListRecipients(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 3)
	for _, recipient := range recipients {
		require.Equal(t, campaign.ID, recipient.CampaignID)
		require.Equal(t, models.RecipientPending, recipient.Status)
	}
}

func TestMarkSentAndFailedAdvanceCounters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db)
	ctx := context.Background()

	campaign := seedCampaign(t, repo, 2)
	recipients, err := repo.ListRecipients(ctx, campaign.ID)
	require.NoError(t, err)

	sentAt := time.Now()
	require.NoError(t, repo.MarkSent(ctx, recipients[0].ID, "Oi Aluno", sentAt))
	require.NoError(t, repo.MarkFailed(ctx, recipients[1].ID, "Oi Aluno", "number unreachable"))

	reloaded, err := repo.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.SentCount)
	require.Equal(t, 1, reloaded.FailedCount)

	rows, err := repo.ListRecipients(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, models.RecipientSent, rows[0].Status)
	require.NotNil(t, rows[0].SentAt)
	require.Equal(t, models.RecipientFailed, rows[1].Status)
	require.Equal(t, "number unreachable", rows[1].Error)

	pending, err := repo.PendingRecipients(ctx, campaign.ID)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestResetFailedFlipsOnlyFailedRowsBackToPending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db)
	ctx := context.Background()

	campaign := seedCampaign(t, repo, 3)
	recipients, err := repo.ListRecipients(ctx, campaign.ID)
	require.NoError(t, err)

	require.NoError(t, repo.MarkSent(ctx, recipients[0].ID, "ok", time.Now()))
	require.NoError(t, repo.MarkFailed(ctx, recipients[1].ID, "", "boom"))
	require.NoError(t, repo.Finish(ctx, campaign.ID, models.CampaignPartialFailure, time.Now()))

	require.NoError(t, repo.ResetFailed(ctx, campaign.ID))

	reloaded, err := repo.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, models.CampaignSending, reloaded.Status)
	require.Equal(t, 1, reloaded.SentCount)
	require.Zero(t, reloaded.FailedCount)
	require.Nil(t, reloaded.CompletedAt)

	pending, err := repo.PendingRecipients(ctx, campaign.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, row := range pending {
		require.Empty(t, row.Error)
	}

	// the delivered row kept its state
	rows, err := repo.ListRecipients(ctx, campaign.ID)
	require.NoError(t, err)
	require.Equal(t, models.RecipientSent, rows[0].Status)
}

func TestListOrdersNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db)
	ctx := context.Background()

	first := seedCampaign(t, repo, 1)
	second := seedCampaign(t, repo, 1)

	campaigns, total, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Equal(t, second.ID, campaigns[0].ID)
	require.Equal(t, first.ID, campaigns[1].ID)
}
