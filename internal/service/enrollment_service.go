package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/repository"
)

// EnrollmentService reconciles class membership driven by product rules.
// Manual enrolments are never touched by the lifecycle machine.
type EnrollmentService interface {
	// AutoEnrol adds a product-sourced enrolment. An existing enrolment of
	// any source is returned unchanged.
	AutoEnrol(ctx context.Context, classID, studentID uint) (models.Enrollment, error)
	// AutoUnenrol removes the enrolment only when it is product-sourced and
	// reports whether a deletion occurred.
	AutoUnenrol(ctx context.Context, classID, studentID uint) (bool, error)
}

type enrollmentService struct {
	repo   repository.EnrollmentRepository
	logger zerolog.Logger
}

// NewEnrollmentService constructs an enrollment service.
func NewEnrollmentService(repo repository.EnrollmentRepository, logger zerolog.Logger) EnrollmentService {
	return &enrollmentService{
		repo:   repo,
		logger: logger.With().Str("component", "enrollment_service").Logger(),
	}
}

func (s *enrollmentService) AutoEnrol(ctx context.Context, classID, studentID uint) (models.Enrollment, error) {
	existing, err := s.repo.Get(ctx, classID, studentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Enrollment{}, err
	}

	enrollment := models.Enrollment{
		ClassID:   classID,
		StudentID: studentID,
		Source:    models.EnrolmentProduct,
	}
	if err := s.repo.Create(ctx, &enrollment); err != nil {
		return models.Enrollment{}, err
	}

	return enrollment, nil
}

func (s *enrollmentService) AutoUnenrol(ctx context.Context, classID, studentID uint) (bool, error) {
	return s.repo.DeleteProductSourced(ctx, classID, studentID)
}
