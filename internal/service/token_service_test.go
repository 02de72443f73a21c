package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/repository"
)

var tokenPattern = regexp.MustCompile(`^[0-9A-F]{8}$`)

func newTokenFixture(t *testing.T, db *gorm.DB) *tokenService {
	t.Helper()
	svc, ok := NewTokenService(repository.NewStudentRepository(db), zerolog.Nop()).(*tokenService)
	require.True(t, ok)
	return svc
}

func TestIssuePersistsUppercaseHexTokenWithExpiry(t *testing.T) {
	db := setupTestDB(t)
	svc := newTokenFixture(t, db)

	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issuedAt }

	student := models.Student{Name: "Maria", Email: "maria@example.com"}
	require.NoError(t, db.Create(&student).Error)

	token, err := svc.Issue(context.Background(), &student)
	require.NoError(t, err)
	require.Regexp(t, tokenPattern, token)

	var stored models.Student
	require.NoError(t, db.First(&stored, student.ID).Error)
	require.NotNil(t, stored.OnboardingToken)
	require.Equal(t, token, *stored.OnboardingToken)
	require.NotNil(t, stored.OnboardingTokenExpiresAt)
	require.WithinDuration(t, issuedAt.Add(TokenTTL), *stored.OnboardingTokenExpiresAt, time.Second)
}

func TestEnsureValidReusesUnexpiredToken(t *testing.T) {
	db := setupTestDB(t)
	svc := newTokenFixture(t, db)

	student := models.Student{Name: "Maria", Email: "maria@example.com"}
	require.NoError(t, db.Create(&student).Error)

	first, refreshed, err := svc.EnsureValid(context.Background(), &student)
	require.NoError(t, err)
	require.True(t, refreshed)

	second, refreshed, err := svc.EnsureValid(context.Background(), &student)
	require.NoError(t, err)
	require.False(t, refreshed)
	require.Equal(t, first, second)
}

func TestEnsureValidReplacesExpiredToken(t *testing.T) {
	db := setupTestDB(t)
	svc := newTokenFixture(t, db)

	stale := "ABCD1234"
	expired := time.Now().Add(-time.Hour)
	student := models.Student{
		Name:                     "Maria",
		Email:                    "maria@example.com",
		OnboardingToken:          &stale,
		OnboardingTokenExpiresAt: &expired,
	}
	require.NoError(t, db.Create(&student).Error)

	token, refreshed, err := svc.EnsureValid(context.Background(), &student)
	require.NoError(t, err)
	require.True(t, refreshed)
	require.NotEqual(t, stale, token)
}

func TestConsumeClearsTokenAndReturnsStudent(t *testing.T) {
	db := setupTestDB(t)
	svc := newTokenFixture(t, db)

	code := "ABCD1234"
	expiry := time.Now().Add(time.Hour)
	student := models.Student{
		Name:                     "Maria",
		Email:                    "maria@example.com",
		LifecycleState:           strPtr(models.StatePendingOnboarding),
		OnboardingToken:          &code,
		OnboardingTokenExpiresAt: &expiry,
	}
	require.NoError(t, db.Create(&student).Error)

	// lookup is case and whitespace insensitive
	claimed, err := svc.Consume(context.Background(), "  abcd1234 ")
	require.NoError(t, err)
	require.Equal(t, student.ID, claimed.ID)

	var stored models.Student
	require.NoError(t, db.First(&stored, student.ID).Error)
	require.Nil(t, stored.OnboardingToken)
	require.Nil(t, stored.OnboardingTokenExpiresAt)

	// the code is single use
	_, err = svc.Consume(context.Background(), code)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestConsumeRejectsExpiredAndActive(t *testing.T) {
	db := setupTestDB(t)
	svc := newTokenFixture(t, db)

	expiredCode := "DEAD0001"
	past := time.Now().Add(-time.Minute)
	require.NoError(t, db.Create(&models.Student{
		Name:                     "Expirada",
		Email:                    "expirada@example.com",
		OnboardingToken:          &expiredCode,
		OnboardingTokenExpiresAt: &past,
	}).Error)

	_, err := svc.Consume(context.Background(), expiredCode)
	require.ErrorIs(t, err, ErrTokenInvalid)

	activeCode := "DEAD0002"
	future := time.Now().Add(time.Hour)
	require.NoError(t, db.Create(&models.Student{
		Name:                     "Ativa",
		Email:                    "ativa@example.com",
		LifecycleState:           strPtr(models.StateActive),
		OnboardingToken:          &activeCode,
		OnboardingTokenExpiresAt: &future,
	}).Error)

	_, err = svc.Consume(context.Background(), activeCode)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.Consume(context.Background(), "short")
	require.ErrorIs(t, err, ErrTokenInvalid)
}
