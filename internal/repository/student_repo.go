package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

// StudentFilter narrows admin student listings.
type StudentFilter struct {
	LifecycleState string
	Query          string
	Limit          int
	Offset         int
}

// StudentRepository provides access to student records.
type StudentRepository interface {
	GetByID(ctx context.Context, id uint) (models.Student, error)
	GetByEmail(ctx context.Context, email string) (models.Student, error)
	GetByToken(ctx context.Context, token string) (models.Student, error)
	GetManyByID(ctx context.Context, ids []uint) ([]models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	Save(ctx context.Context, student *models.Student) error
	List(ctx context.Context, filter StudentFilter) ([]models.Student, int64, error)
	// ListRecipients returns students reachable for messaging, optionally
	// scoped to buyers of one sales product and to those with a phone.
	ListRecipients(ctx context.Context, salesProductID string, hasWhatsapp bool) ([]models.Student, error)
}

type studentRepository struct {
	db *gorm.DB
}

// NewStudentRepository constructs a student repository.
func NewStudentRepository(db *gorm.DB) StudentRepository {
	return &studentRepository{db: db}
}

func (r *studentRepository) GetByID(ctx context.Context, id uint) (models.Student, error) {
	var student models.Student
	if err := r.db.WithContext(ctx).First(&student, id).Error; err != nil {
		return models.Student{}, err
	}

	return student, nil
}

func (r *studentRepository) GetByEmail(ctx context.Context, email string) (models.Student, error) {
	var student models.Student
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&student).Error
	if err != nil {
		return models.Student{}, err
	}

	return student, nil
}

func (r *studentRepository) GetByToken(ctx context.Context, token string) (models.Student, error) {
	var student models.Student
	err := r.db.WithContext(ctx).
		Where("onboarding_token = ?", token).
		First(&student).Error
	if err != nil {
		return models.Student{}, err
	}

	return student, nil
}

func (r *studentRepository) GetManyByID(ctx context.Context, ids []uint) ([]models.Student, error) {
	var students []models.Student
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&students).Error; err != nil {
		return nil, err
	}

	return students, nil
}

func (r *studentRepository) Create(ctx context.Context, student *models.Student) error {
	student.Email = strings.ToLower(strings.TrimSpace(student.Email))
	return r.db.WithContext(ctx).Create(student).Error
}

func (r *studentRepository) Save(ctx context.Context, student *models.Student) error {
	return r.db.WithContext(ctx).Save(student).Error
}

func (r *studentRepository) List(ctx context.Context, filter StudentFilter) ([]models.Student, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Student{})

	if filter.LifecycleState != "" {
		query = query.Where("lifecycle_state = ?", filter.LifecycleState)
	}
	if filter.Query != "" {
		like := "%" + strings.ToLower(strings.TrimSpace(filter.Query)) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var students []models.Student
	err := query.Order("id ASC").Limit(limit).Offset(filter.Offset).Find(&students).Error
	if err != nil {
		return nil, 0, err
	}

	return students, total, nil
}

func (r *studentRepository) ListRecipients(ctx context.Context, salesProductID string, hasWhatsapp bool) ([]models.Student, error) {
	query := r.db.WithContext(ctx).Model(&models.Student{})

	if salesProductID != "" {
		query = query.
			Joins("JOIN sales_buyers b ON b.student_id = students.id").
			Where("b.sales_product_id = ? AND b.status = ?", salesProductID, models.CommercialActive)
	}
	if hasWhatsapp {
		query = query.Where("whatsapp_phone IS NOT NULL AND whatsapp_phone <> ''")
	}

	var students []models.Student
	err := query.Order("students.id ASC").Distinct("students.*").Find(&students).Error
	if err != nil {
		return nil, err
	}

	return students, nil
}
