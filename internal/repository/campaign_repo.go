package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

// CampaignRepository persists campaigns and their recipient rows.
type CampaignRepository interface {
	// CreateWithRecipients inserts the campaign and all recipient rows in
	// one transaction so a campaign never exists half-materialised.
	CreateWithRecipients(ctx context.Context, campaign *models.Campaign, recipients []models.CampaignRecipient) error
	GetByID(ctx context.Context, id uint) (models.Campaign, error)
	List(ctx context.Context, limit, offset int) ([]models.Campaign, int64, error)
	ListRecipients(ctx context.Context, campaignID uint) ([]models.CampaignRecipient, error)
	// PendingRecipients returns pending rows in insertion order.
	PendingRecipients(ctx context.Context, campaignID uint) ([]models.CampaignRecipient, error)
	// MarkSent settles one recipient as delivered and advances sent_count.
	MarkSent(ctx context.Context, recipientID uint, resolvedMessage string, sentAt time.Time) error
	// MarkFailed settles one recipient as failed and advances failed_count.
	MarkFailed(ctx context.Context, recipientID uint, resolvedMessage, errText string) error
	Finish(ctx context.Context, campaignID uint, status string, completedAt time.Time) error
	// ResetFailed flips failed recipients back to pending, clears errors and
	// failed_count, and moves the campaign back into the sending state.
	ResetFailed(ctx context.Context, campaignID uint) error
}

type campaignRepository struct {
	db *gorm.DB
}

// NewCampaignRepository constructs a campaign repository.
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func (r *campaignRepository) CreateWithRecipients(ctx context.Context, campaign *models.Campaign, recipients []models.CampaignRecipient) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(campaign).Error; err != nil {
			return err
		}

		for i := range recipients {
			recipients[i].CampaignID = campaign.ID
		}
		if len(recipients) == 0 {
			return nil
		}

		return tx.Create(&recipients).Error
	})
}

func (r *campaignRepository) GetByID(ctx context.Context, id uint) (models.Campaign, error) {
	var campaign models.Campaign
	if err := r.db.WithContext(ctx).First(&campaign, id).Error; err != nil {
		return models.Campaign{}, err
	}

	return campaign, nil
}

func (r *campaignRepository) List(ctx context.Context, limit, offset int) ([]models.Campaign, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Campaign{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var campaigns []models.Campaign
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&campaigns).Error
	if err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *campaignRepository) ListRecipients(ctx context.Context, campaignID uint) ([]models.CampaignRecipient, error) {
	var recipients []models.CampaignRecipient
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("id ASC").
		Find(&recipients).Error
	if err != nil {
		return nil, err
	}

	return recipients, nil
}

func (r *campaignRepository) PendingRecipients(ctx context.Context, campaignID uint) ([]models.CampaignRecipient, error) {
	var recipients []models.CampaignRecipient
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ?", campaignID, models.RecipientPending).
		Order("id ASC").
		Find(&recipients).Error
	if err != nil {
		return nil, err
	}

	return recipients, nil
}

func (r *campaignRepository) MarkSent(ctx context.Context, recipientID uint, resolvedMessage string, sentAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recipient models.CampaignRecipient
		if err := tx.First(&recipient, recipientID).Error; err != nil {
			return err
		}

		err := tx.Model(&models.CampaignRecipient{}).
			Where("id = ?", recipientID).
			Updates(map[string]any{
				"status":           models.RecipientSent,
				"resolved_message": resolvedMessage,
				"sent_at":          sentAt,
				"error":            "",
			}).Error
		if err != nil {
			return err
		}

		return tx.Model(&models.Campaign{}).
			Where("id = ?", recipient.CampaignID).
			Update("sent_count", gorm.Expr("sent_count + 1")).Error
	})
}

func (r *campaignRepository) MarkFailed(ctx context.Context, recipientID uint, resolvedMessage, errText string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recipient models.CampaignRecipient
		if err := tx.First(&recipient, recipientID).Error; err != nil {
			return err
		}

		err := tx.Model(&models.CampaignRecipient{}).
			Where("id = ?", recipientID).
			Updates(map[string]any{
				"status":           models.RecipientFailed,
				"resolved_message": resolvedMessage,
				"error":            errText,
			}).Error
		if err != nil {
			return err
		}

		return tx.Model(&models.Campaign{}).
			Where("id = ?", recipient.CampaignID).
			Update("failed_count", gorm.Expr("failed_count + 1")).Error
	})
}

func (r *campaignRepository) Finish(ctx context.Context, campaignID uint, status string, completedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{"status": status, "completed_at": completedAt}).Error
}

func (r *campaignRepository) ResetFailed(ctx context.Context, campaignID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.CampaignRecipient{}).
			Where("campaign_id = ? AND status = ?", campaignID, models.RecipientFailed).
			Updates(map[string]any{"status": models.RecipientPending, "error": ""}).Error
		if err != nil {
			return err
		}

		return tx.Model(&models.Campaign{}).
			Where("id = ?", campaignID).
			Updates(map[string]any{
				"status":       models.CampaignSending,
				"failed_count": 0,
				"completed_at": nil,
			}).Error
	})
}
