package models

import (
	"time"

	"gorm.io/datatypes"
)

// Event outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeIgnored   = "ignored"
)

// Event types use a dotted taxonomy, e.g. "lifecycle.transition",
// "chat.role_assigned", "messaging.message_sent", "sales.purchase_approved".
const (
	EventLifecycleTransition = "lifecycle.transition"
	EventChatRoleAssigned    = "chat.role_assigned"
	EventChatRoleRevoked     = "chat.role_revoked"
	EventClassEnrolled       = "class.enrolled"
	EventClassUnenrolled     = "class.unenrolled"
	EventMessageSent         = "messaging.message_sent"
	EventSalesSyncCompleted  = "sales.sync_completed"
	EventAdminManualRetry    = "admin.manual_retry"
)

// Event is the append-only audit record. Rows are never deleted; only the
// webhook intake row has its outcome settled by its own async processing.
type Event struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	Type      string            `gorm:"size:64;index;not null" json:"type"`
	ActorID   *uint             `gorm:"index" json:"actor_id"`
	TargetID  *uint             `gorm:"index" json:"target_id"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`
	Outcome   string            `gorm:"size:16;index;not null" json:"outcome"`
	Error     string            `gorm:"type:text" json:"error"`
	CreatedAt time.Time         `json:"created_at"`
}
