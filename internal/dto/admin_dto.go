package dto

import (
	"time"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

// UpdateTemplateRequest replaces the stored text of a lifecycle or campaign
// template.
type UpdateTemplateRequest struct {
	Template string `json:"template" validate:"required"`
}

// SyncRequest starts a sales reconciliation run.
type SyncRequest struct {
	Kind      string `json:"kind" validate:"required,oneof=buyers lifecycle historical"`
	ProductID *uint  `json:"product_id"`
}

// SyncAccepted acknowledges a queued reconciliation run.
type SyncAccepted struct {
	TaskID string `json:"task_id"`
}

// AdminStudentItem is the admin listing representation of a student.
type AdminStudentItem struct {
	ID             uint      `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	ChatID         string    `json:"chat_id,omitempty"`
	WhatsappPhone  string    `json:"whatsapp_phone,omitempty"`
	LifecycleState string    `json:"lifecycle_state,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewAdminStudentItem maps a student row to its admin representation.
func NewAdminStudentItem(student models.Student) AdminStudentItem {
	item := AdminStudentItem{
		ID:        student.ID,
		Name:      student.Name,
		Email:     student.Email,
		Role:      student.Role,
		CreatedAt: student.CreatedAt,
	}
	if student.ChatID != nil {
		item.ChatID = *student.ChatID
	}
	if student.WhatsappPhone != nil {
		item.WhatsappPhone = *student.WhatsappPhone
	}
	if student.LifecycleState != nil {
		item.LifecycleState = *student.LifecycleState
	}
	return item
}
