package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/repository"
	"github.com/noah-isme/aluno-go-api/internal/service"
	"github.com/noah-isme/aluno-go-api/internal/utils"
)

var (
	testDBMu      sync.Mutex
	testDBCounter int
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testDBMu.Lock()
	testDBCounter++
	dsn := fmt.Sprintf("file:handler_test_%d?mode=memory&cache=shared", testDBCounter)
	testDBMu.Unlock()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Student{},
		&models.Product{},
		&models.AccessRule{},
		&models.SalesProductMapping{},
		&models.Class{},
		&models.Enrollment{},
		&models.SalesBuyer{},
		&models.CourseStatusHistory{},
		&models.Event{},
		&models.MessageTemplate{},
	))

	return db
}

func newOnboardingApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	logger := zerolog.Nop()
	students := repository.NewStudentRepository(db)
	tokens := service.NewTokenService(students, logger)
	templates := service.NewTemplateService(repository.NewTemplateRepository(db), logger)
	enrollments := service.NewEnrollmentService(repository.NewEnrollmentRepository(db), logger)
	lifecycle := service.NewLifecycleService(service.LifecycleDeps{
		DB:           db,
		Students:     students,
		Products:     repository.NewProductRepository(db),
		Buyers:       repository.NewSalesBuyerRepository(db),
		CourseStatus: repository.NewCourseStatusRepository(db),
		Events:       repository.NewEventRepository(db),
		Enrollments:  enrollments,
		Templates:    templates,
		Tokens:       tokens,
	}, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())

	app := fiber.New()
	NewOnboardingHandler(tokens, lifecycle, students, validate, logger).Register(app.Group("/onboarding"))
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (int, utils.APIResponse) {
	t.Helper()

	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var envelope utils.APIResponse
	require.NoError(t, json.Unmarshal(raw, &envelope))

	return resp.StatusCode, envelope
}

func TestRegisterChatActivatesStudent(t *testing.T) {
	db := setupTestDB(t)
	app := newOnboardingApp(t, db)

	code := "ABCD1234"
	state := models.StatePendingOnboarding
	expiry := time.Now().Add(time.Hour)
	student := models.Student{
		Name:                     "Maria Silva",
		Email:                    "maria@example.com",
		LifecycleState:           &state,
		OnboardingToken:          &code,
		OnboardingTokenExpiresAt: &expiry,
	}
	require.NoError(t, db.Create(&student).Error)

	status, envelope := postJSON(t, app, "/onboarding/chat", `{"token":"abcd1234","chat_id":"discord-42"}`)
	require.Equal(t, fiber.StatusOK, status)
	require.True(t, envelope.Success)

	data, ok := envelope.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, models.StateActive, data["lifecycle_state"])

	var stored models.Student
	require.NoError(t, db.First(&stored, student.ID).Error)
	require.NotNil(t, stored.ChatID)
	require.Equal(t, "discord-42", *stored.ChatID)
	require.Equal(t, models.StateActive, stored.State())
	require.Nil(t, stored.OnboardingToken)
}

func TestRegisterChatRejectsBadToken(t *testing.T) {
	db := setupTestDB(t)
	app := newOnboardingApp(t, db)

	status, envelope := postJSON(t, app, "/onboarding/chat", `{"token":"FFFF0000","chat_id":"discord-42"}`)
	require.Equal(t, fiber.StatusUnprocessableEntity, status)
	require.False(t, envelope.Success)

	status, _ = postJSON(t, app, "/onboarding/chat", `{"chat_id":"discord-42"}`)
	require.Equal(t, fiber.StatusBadRequest, status)
}
