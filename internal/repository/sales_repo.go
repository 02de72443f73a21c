package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

// SalesBuyerRepository maintains the per-(email, product) buyer snapshot.
type SalesBuyerRepository interface {
	// Upsert inserts or refreshes a snapshot row keyed on
	// (email, sales_product_id) and reports whether a row was inserted.
	Upsert(ctx context.Context, row *models.SalesBuyer) (bool, error)
	GetByEmailProduct(ctx context.Context, email, salesProductID string) (models.SalesBuyer, error)
	ListActiveUnlinked(ctx context.Context) ([]models.SalesBuyer, error)
	ListActiveByEmail(ctx context.Context, email string) ([]models.SalesBuyer, error)
	Link(ctx context.Context, id, studentID uint) error
}

type salesBuyerRepository struct {
	db *gorm.DB
}

// NewSalesBuyerRepository constructs a sales buyer snapshot repository.
func NewSalesBuyerRepository(db *gorm.DB) SalesBuyerRepository {
	return &salesBuyerRepository{db: db}
}

func (r *salesBuyerRepository) Upsert(ctx context.Context, row *models.SalesBuyer) (bool, error) {
	var existing models.SalesBuyer
	err := r.db.WithContext(ctx).
		Where("email = ? AND sales_product_id = ?", row.Email, row.SalesProductID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	updates := map[string]any{
		"status":         row.Status,
		"last_synced_at": row.LastSyncedAt,
	}
	if row.Name != "" {
		updates["name"] = row.Name
	}
	if row.Phone != "" {
		updates["phone"] = row.Phone
	}
	if row.StudentID != nil {
		updates["student_id"] = *row.StudentID
	}

	err = r.db.WithContext(ctx).Model(&models.SalesBuyer{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error
	if err != nil {
		return false, err
	}

	row.ID = existing.ID
	return false, nil
}

func (r *salesBuyerRepository) GetByEmailProduct(ctx context.Context, email, salesProductID string) (models.SalesBuyer, error) {
	var row models.SalesBuyer
	err := r.db.WithContext(ctx).
		Where("email = ? AND sales_product_id = ?", email, salesProductID).
		First(&row).Error
	if err != nil {
		return models.SalesBuyer{}, err
	}

	return row, nil
}

func (r *salesBuyerRepository) ListActiveUnlinked(ctx context.Context) ([]models.SalesBuyer, error) {
	var rows []models.SalesBuyer
	err := r.db.WithContext(ctx).
		Where("status = ? AND student_id IS NULL", models.CommercialActive).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return rows, nil
}

func (r *salesBuyerRepository) ListActiveByEmail(ctx context.Context, email string) ([]models.SalesBuyer, error) {
	var rows []models.SalesBuyer
	err := r.db.WithContext(ctx).
		Where("email = ? AND status = ?", email, models.CommercialActive).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return rows, nil
}

func (r *salesBuyerRepository) Link(ctx context.Context, id, studentID uint) error {
	return r.db.WithContext(ctx).Model(&models.SalesBuyer{}).
		Where("id = ?", id).
		Update("student_id", studentID).Error
}

// CourseStatusRepository maintains the type-2 status history per
// (student, product).
type CourseStatusRepository interface {
	// SetCurrent records a status change: when the current row already
	// carries the status it is left untouched, otherwise it is closed and a
	// new current row is inserted.
	SetCurrent(ctx context.Context, studentID, productID uint, status string, now time.Time) error
	GetCurrent(ctx context.Context, studentID, productID uint) (models.CourseStatusHistory, error)
}

type courseStatusRepository struct {
	db *gorm.DB
}

// NewCourseStatusRepository constructs a course status history repository.
func NewCourseStatusRepository(db *gorm.DB) CourseStatusRepository {
	return &courseStatusRepository{db: db}
}

func (r *courseStatusRepository) SetCurrent(ctx context.Context, studentID, productID uint, status string, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.CourseStatusHistory
		err := tx.Where("student_id = ? AND product_id = ? AND is_current = ?", studentID, productID, true).
			First(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first status for the pair
		case err != nil:
			return err
		case current.Status == status:
			return nil
		default:
			closeErr := tx.Model(&models.CourseStatusHistory{}).
				Where("id = ?", current.ID).
				Updates(map[string]any{"is_current": false, "valid_to": now}).Error
			if closeErr != nil {
				return closeErr
			}
		}

		return tx.Create(&models.CourseStatusHistory{
			StudentID: studentID,
			ProductID: productID,
			Status:    status,
			ValidFrom: now,
			IsCurrent: true,
		}).Error
	})
}

func (r *courseStatusRepository) GetCurrent(ctx context.Context, studentID, productID uint) (models.CourseStatusHistory, error) {
	var row models.CourseStatusHistory
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND product_id = ? AND is_current = ?", studentID, productID, true).
		First(&row).Error
	if err != nil {
		return models.CourseStatusHistory{}, err
	}

	return row, nil
}
