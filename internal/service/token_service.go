package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/repository"
)

// TokenTTL is how long an onboarding token stays valid.
const TokenTTL = 7 * 24 * time.Hour

// tokenLength is the number of hex characters in a token.
const tokenLength = 8

// ErrTokenInvalid is returned when a token does not resolve to a student
// that may still onboard.
var ErrTokenInvalid = errors.New("invalid or expired onboarding code")

// TokenService issues and consumes the short opaque codes that prove a
// chat-identity claim. Uniqueness is probabilistic; a collision surfaces as
// an invalid-code error during consumption.
type TokenService interface {
	// Issue generates a fresh token on the student and persists it together
	// with a seven-day expiry.
	Issue(ctx context.Context, student *models.Student) (string, error)
	// EnsureValid returns the student's current token, issuing a fresh one
	// when it is absent or expired. The boolean reports a refresh.
	EnsureValid(ctx context.Context, student *models.Student) (string, bool, error)
	// Consume resolves the token to the unique matching student, clears the
	// token fields and returns the student. Expired tokens and students
	// already active yield ErrTokenInvalid.
	Consume(ctx context.Context, token string) (models.Student, error)
}

type tokenService struct {
	students repository.StudentRepository
	logger   zerolog.Logger
	now      func() time.Time
}

// NewTokenService constructs a token service.
func NewTokenService(students repository.StudentRepository, logger zerolog.Logger) TokenService {
	return &tokenService{
		students: students,
		logger:   logger.With().Str("component", "token_service").Logger(),
		now:      time.Now,
	}
}

func (s *tokenService) Issue(ctx context.Context, student *models.Student) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	expiry := s.now().Add(TokenTTL)
	student.OnboardingToken = &token
	student.OnboardingTokenExpiresAt = &expiry

	if err := s.students.Save(ctx, student); err != nil {
		return "", fmt.Errorf("persist onboarding token: %w", err)
	}

	return token, nil
}

func (s *tokenService) EnsureValid(ctx context.Context, student *models.Student) (string, bool, error) {
	if student.HasValidToken(s.now()) {
		return *student.OnboardingToken, false, nil
	}

	token, err := s.Issue(ctx, student)
	if err != nil {
		return "", false, err
	}

	return token, true, nil
}

func (s *tokenService) Consume(ctx context.Context, token string) (models.Student, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if len(token) != tokenLength {
		return models.Student{}, ErrTokenInvalid
	}

	student, err := s.students.GetByToken(ctx, token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Student{}, ErrTokenInvalid
	}
	if err != nil {
		return models.Student{}, err
	}

	if !student.HasValidToken(s.now()) || student.State() == models.StateActive {
		return models.Student{}, ErrTokenInvalid
	}

	student.OnboardingToken = nil
	student.OnboardingTokenExpiresAt = nil
	if err := s.students.Save(ctx, &student); err != nil {
		return models.Student{}, fmt.Errorf("clear onboarding token: %w", err)
	}

	return student, nil
}

// generateToken produces 8 uppercase hex characters from a cryptographic
// source.
func generateToken() (string, error) {
	buf := make([]byte, tokenLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate onboarding token: %w", err)
	}

	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
