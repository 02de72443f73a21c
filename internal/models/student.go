package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Lifecycle states a managed student moves through. A student with a NULL
// lifecycle state is unmanaged until the first transition touches them.
const (
	StatePendingPayment    = "pending_payment"
	StatePendingOnboarding = "pending_onboarding"
	StateActive            = "active"
	StateChurned           = "churned"
)

// Roles recognised on a student account.
const (
	RoleAdmin             = "admin"
	RoleInstructor        = "instructor"
	RoleTeachingAssistant = "teaching_assistant"
	RoleStudent           = "student"
)

// Student is the internal registry entry for a learner. Identity is the
// e-mail address; the sales platform references the same person through
// SalesID (usually identical to the e-mail). Rows referenced by campaigns
// or events are never hard-deleted, hence the soft-delete column.
type Student struct {
	ID                       uint           `gorm:"primaryKey" json:"id"`
	Name                     string         `gorm:"size:255;not null" json:"name"`
	Email                    string         `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Role                     string         `gorm:"size:32;not null;default:student" json:"role"`
	PasswordHash             string         `gorm:"size:128" json:"-"`
	ChatID                   *string        `gorm:"size:64;index" json:"chat_id"`
	WhatsappPhone            *string        `gorm:"size:32" json:"whatsapp_phone"`
	LifecycleState           *string        `gorm:"size:32;index" json:"lifecycle_state"`
	OnboardingToken          *string        `gorm:"size:16;index" json:"-"`
	OnboardingTokenExpiresAt *time.Time     `json:"-"`
	SalesID                  string         `gorm:"size:255;index" json:"sales_id"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
	DeletedAt                gorm.DeletedAt `gorm:"index" json:"-"`
}

// FirstName returns the first whitespace-separated token of the student's
// name, falling back to the local part of the e-mail address.
func (s Student) FirstName() string {
	if fields := strings.Fields(s.Name); len(fields) > 0 {
		return fields[0]
	}
	if at := strings.Index(s.Email, "@"); at > 0 {
		return s.Email[:at]
	}
	return s.Email
}

// HasValidToken reports whether the onboarding token is present and unexpired.
func (s Student) HasValidToken(now time.Time) bool {
	return s.OnboardingToken != nil && *s.OnboardingToken != "" &&
		s.OnboardingTokenExpiresAt != nil && s.OnboardingTokenExpiresAt.After(now)
}

// State returns the lifecycle state or the empty string when unmanaged.
func (s Student) State() string {
	if s.LifecycleState == nil {
		return ""
	}
	return *s.LifecycleState
}
