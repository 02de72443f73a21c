package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

// TemplateRepository stores the editable lifecycle message templates.
type TemplateRepository interface {
	GetByKind(ctx context.Context, eventKind string) (models.MessageTemplate, error)
	Upsert(ctx context.Context, template *models.MessageTemplate) error
}

type templateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository constructs a template repository.
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

func (r *templateRepository) GetByKind(ctx context.Context, eventKind string) (models.MessageTemplate, error) {
	var template models.MessageTemplate
	err := r.db.WithContext(ctx).Where("event_kind = ?", eventKind).First(&template).Error
	if err != nil {
		return models.MessageTemplate{}, err
	}

	return template, nil
}

func (r *templateRepository) Upsert(ctx context.Context, template *models.MessageTemplate) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"text", "updated_by", "updated_at"}),
	}).Create(template).Error
}
