package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

var testDBCounter int
var testDBMu sync.Mutex

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testDBMu.Lock()
	testDBCounter++
	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", testDBCounter)
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
		&models.Campaign{},
		&models.CampaignRecipient{},
		&models.MessageTemplate{},
	))
	return db
}

// stubChat records chat transport calls; fail flips every call to failure.
type stubChat struct {
	fail     bool
	assigned []string
	revoked  []string
	dms      []string
	alerts   []string
}

func (s *stubChat) AssignRole(ctx context.Context, userID, roleID string) bool {
	if s.fail {
		return false
	}
	s.assigned = append(s.assigned, roleID)
	return true
}

func (s *stubChat) RevokeRole(ctx context.Context, userID, roleID string) bool {
	if s.fail {
		return false
	}
	s.revoked = append(s.revoked, roleID)
	return true
}

func (s *stubChat) SendDM(ctx context.Context, userID, content string) bool {
	if s.fail {
		return false
	}
	s.dms = append(s.dms, content)
	return true
}

func (s *stubChat) AlertAdmin(ctx context.Context, content string) bool {
	s.alerts = append(s.alerts, content)
	return true
}

// stubSender records outbound messages. failFor marks phone numbers whose
// sends should fail; failAll fails everything.
type stubSender struct {
	failAll bool
	failFor map[string]bool
	sent    []sentMessage
}

type sentMessage struct {
	Phone string
	Text  string
}

func (s *stubSender) SendText(ctx context.Context, phone, text string) bool {
	if s.failAll || s.failFor[phone] {
		return false
	}
	s.sent = append(s.sent, sentMessage{Phone: phone, Text: text})
	return true
}

// capturePublisher records published jobs instead of hitting a broker.
type capturePublisher struct {
	subjects []string
	payloads []any
}

func (p *capturePublisher) Publish(subject string, payload any) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

func countEvents(t *testing.T, db *gorm.DB, eventType string) int64 {
	t.Helper()
	var count int64
	query := db.Model(&models.Event{})
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	require.NoError(t, query.Count(&count).Error)
	return count
}

func strPtr(s string) *string {
	return &s
}
