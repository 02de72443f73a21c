package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

// EnrollmentRepository manages class membership rows.
type EnrollmentRepository interface {
	Get(ctx context.Context, classID, studentID uint) (models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	// DeleteProductSourced removes the enrolment only when it was created by
	// a product rule, reporting whether a deletion happened.
	DeleteProductSourced(ctx context.Context, classID, studentID uint) (bool, error)
	ListStudentIDsByClass(ctx context.Context, classID uint) ([]uint, error)
}

type enrollmentRepository struct {
	db *gorm.DB
}

// NewEnrollmentRepository constructs an enrollment repository.
func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

func (r *enrollmentRepository) Get(ctx context.Context, classID, studentID uint) (models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		Where("class_id = ? AND student_id = ?", classID, studentID).
		First(&enrollment).Error
	if err != nil {
		return models.Enrollment{}, err
	}

	return enrollment, nil
}

func (r *enrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	return r.db.WithContext(ctx).Create(enrollment).Error
}

func (r *enrollmentRepository) DeleteProductSourced(ctx context.Context, classID, studentID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("class_id = ? AND student_id = ? AND source = ?", classID, studentID, models.EnrolmentProduct).
		Delete(&models.Enrollment{})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *enrollmentRepository) ListStudentIDsByClass(ctx context.Context, classID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Enrollment{}).
		Where("class_id = ?", classID).
		Pluck("student_id", &ids).Error
	if err != nil {
		return nil, err
	}

	return ids, nil
}
