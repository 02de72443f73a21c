package repository

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

var (
	testDBMu      sync.Mutex
	testDBCounter int
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testDBMu.Lock()
	testDBCounter++
	dsn := fmt.Sprintf("file:repo_test_%d?mode=memory&cache=shared", testDBCounter)
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

func uintPtr(v uint) *uint {
	return &v
}

func strPtr(s string) *string {
	return &s
}
