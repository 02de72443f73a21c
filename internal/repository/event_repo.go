package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

// EventFilter narrows admin event listings.
type EventFilter struct {
	Type     string
	TargetID *uint
	Outcome  string
	Limit    int
	Offset   int
}

// EventRepository persists the append-only audit log. Rows are inserted and
// listed; the single exception to immutability is SettleIntake, which lets a
// webhook intake row record the outcome of its own asynchronous processing.
type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id uint) (models.Event, error)
	List(ctx context.Context, filter EventFilter) ([]models.Event, int64, error)
	// ExistsSalesTransaction reports whether an event of the type already
	// carries the transaction id in its payload. Drives webhook idempotency.
	ExistsSalesTransaction(ctx context.Context, eventType, transactionID string) (bool, error)
	SettleIntake(ctx context.Context, id uint, targetID *uint, outcome, errText string) error
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository constructs an event repository.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Create(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *eventRepository) GetByID(ctx context.Context, id uint) (models.Event, error) {
	var event models.Event
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return models.Event{}, err
	}

	return event, nil
}

func (r *eventRepository) List(ctx context.Context, filter EventFilter) ([]models.Event, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Event{})

	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.TargetID != nil {
		query = query.Where("target_id = ?", *filter.TargetID)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var events []models.Event
	err := query.Order("id DESC").Limit(limit).Offset(filter.Offset).Find(&events).Error
	if err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

func (r *eventRepository) ExistsSalesTransaction(ctx context.Context, eventType, transactionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Event{}).
		Where("type = ?", eventType).
		Where("payload ->> 'transaction_id' = ?", transactionID).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *eventRepository) SettleIntake(ctx context.Context, id uint, targetID *uint, outcome, errText string) error {
	updates := map[string]any{"outcome": outcome, "error": errText}
	if targetID != nil {
		updates["target_id"] = *targetID
	}

	return r.db.WithContext(ctx).Model(&models.Event{}).Where("id = ?", id).Updates(updates).Error
}
