package dto

import (
	"time"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

// SendCampaignRequest launches a bulk-messaging campaign.
type SendCampaignRequest struct {
	UserIDs            []uint   `json:"user_ids" validate:"required,min=1"`
	Template           string   `json:"template" validate:"required"`
	Variations         []string `json:"variations" validate:"omitempty,dive,required"`
	ProductID          *uint    `json:"product_id"`
	ThrottleMinSeconds int      `json:"throttle_min_seconds" validate:"omitempty,min=0"`
	ThrottleMaxSeconds int      `json:"throttle_max_seconds" validate:"omitempty,min=0"`
}

// VariationsRequest asks the LLM for N rewrites of a campaign template.
type VariationsRequest struct {
	Template string `json:"template" validate:"required"`
	Count    int    `json:"count" validate:"required,min=3,max=10"`
}

// VariationsResponse returns the surviving rewrites. Warning is set when
// fewer than the requested count passed the placeholder filter.
type VariationsResponse struct {
	Variations []string `json:"variations"`
	Warning    string   `json:"warning,omitempty"`
}

// CampaignSummary is the list representation of a campaign.
type CampaignSummary struct {
	ID             uint       `json:"id"`
	Status         string     `json:"status"`
	CourseName     string     `json:"course_name,omitempty"`
	RecipientCount int        `json:"recipient_count"`
	SentCount      int        `json:"sent_count"`
	FailedCount    int        `json:"failed_count"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// CampaignDetail adds the template and per-recipient rows.
type CampaignDetail struct {
	CampaignSummary
	Template   string                     `json:"template"`
	Recipients []models.CampaignRecipient `json:"recipients"`
}

// NewCampaignSummary maps a campaign row to its list representation.
func NewCampaignSummary(campaign models.Campaign) CampaignSummary {
	return CampaignSummary{
		ID:             campaign.ID,
		Status:         campaign.Status,
		CourseName:     campaign.CourseName,
		RecipientCount: campaign.RecipientCount,
		SentCount:      campaign.SentCount,
		FailedCount:    campaign.FailedCount,
		CreatedAt:      campaign.CreatedAt,
		CompletedAt:    campaign.CompletedAt,
	}
}

// RecipientOption is one selectable student in the messaging UI.
type RecipientOption struct {
	ID             uint   `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	WhatsappPhone  string `json:"whatsapp_phone,omitempty"`
	LifecycleState string `json:"lifecycle_state,omitempty"`
}

// NewRecipientOption maps a student to a messaging recipient option.
func NewRecipientOption(student models.Student) RecipientOption {
	option := RecipientOption{
		ID:    student.ID,
		Name:  student.Name,
		Email: student.Email,
	}
	if student.WhatsappPhone != nil {
		option.WhatsappPhone = *student.WhatsappPhone
	}
	if student.LifecycleState != nil {
		option.LifecycleState = *student.LifecycleState
	}
	return option
}

// CourseOption is one selectable product in the messaging UI.
type CourseOption struct {
	ID             uint   `json:"id"`
	Name           string `json:"name"`
	SalesProductID string `json:"sales_product_id"`
}
