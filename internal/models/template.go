package models

import "time"

// Lifecycle message kinds backed by a stored template. A missing row falls
// back to the hard-coded default for the kind.
const (
	TemplateOnboarding  = "onboarding"
	TemplateWelcome     = "welcome"
	TemplateWelcomeBack = "welcome_back"
	TemplateChurn       = "churn"
)

// MessageTemplate is the editable wording for one lifecycle message kind.
type MessageTemplate struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventKind string    `gorm:"size:32;uniqueIndex;not null" json:"event_kind"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	UpdatedBy string    `gorm:"size:255" json:"updated_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
