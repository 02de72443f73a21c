package models

import (
	"time"

	"gorm.io/datatypes"
)

// Campaign states.
const (
	CampaignSending        = "sending"
	CampaignCompleted      = "completed"
	CampaignPartialFailure = "partial_failure"
	CampaignFailed         = "failed"
)

// Recipient states. The only legal transitions are pending→sent and
// pending→failed; a retry flips failed rows back to pending first.
const (
	RecipientPending = "pending"
	RecipientSent    = "sent"
	RecipientFailed  = "failed"
)

// Default and minimum inter-send throttle, in seconds.
const (
	ThrottleFloorSeconds      = 3
	DefaultThrottleMinSeconds = 15
	DefaultThrottleMaxSeconds = 25
)

// Campaign is one bulk-messaging run. Totals are advanced per recipient so
// sent_count+failed_count never exceeds recipient_count, and the state stays
// "sending" until every recipient reached a terminal status.
type Campaign struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Template           string         `gorm:"type:text;not null" json:"template"`
	Variations         datatypes.JSON `gorm:"type:jsonb" json:"variations"`
	ProductID          *uint          `gorm:"index" json:"product_id"`
	CourseName         string         `gorm:"size:255" json:"course_name"`
	SenderID           uint           `gorm:"index;not null" json:"sender_id"`
	Status             string         `gorm:"size:24;index;not null;default:sending" json:"status"`
	RecipientCount     int            `gorm:"not null;default:0" json:"recipient_count"`
	SentCount          int            `gorm:"not null;default:0" json:"sent_count"`
	FailedCount        int            `gorm:"not null;default:0" json:"failed_count"`
	ThrottleMinSeconds int            `gorm:"not null;default:15" json:"throttle_min_seconds"`
	ThrottleMaxSeconds int            `gorm:"not null;default:25" json:"throttle_max_seconds"`
	CompletedAt        *time.Time     `json:"completed_at"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// CampaignRecipient is the unit of at-least-once delivery. Phone and name
// are denormalised at materialisation time; ResolvedMessage is filled when
// the row is processed.
type CampaignRecipient struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CampaignID      uint       `gorm:"index;not null" json:"campaign_id"`
	StudentID       uint       `gorm:"index;not null" json:"student_id"`
	Phone           string     `gorm:"size:32;not null" json:"phone"`
	Name            string     `gorm:"size:255" json:"name"`
	ResolvedMessage string     `gorm:"type:text" json:"resolved_message"`
	Status          string     `gorm:"size:16;index;not null;default:pending" json:"status"`
	SentAt          *time.Time `json:"sent_at"`
	Error           string     `gorm:"type:text" json:"error"`
	CreatedAt       time.Time  `json:"created_at"`
}
