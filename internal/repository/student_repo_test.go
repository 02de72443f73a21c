package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

func TestCreateAndGetByEmailNormaliseCase(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStudentRepository(db)
	ctx := context.Background()

	student := models.Student{Name: "Maria Silva", Email: "  Maria@Example.COM "}
	require.NoError(t, repo.Create(ctx, &student))
	require.Equal(t, "maria@example.com", student.Email)

	found, err := repo.GetByEmail(ctx, "MARIA@example.com")
	require.NoError(t, err)
	require.Equal(t, student.ID, found.ID)
}

func TestListFiltersByStateAndQuery(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStudentRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Student{Name: "Maria Silva", Email: "maria@example.com", LifecycleState: strPtr(models.StateActive)}))
	require.NoError(t, repo.Create(ctx, &models.Student{Name: "Ana Souza", Email: "ana@example.com", LifecycleState: strPtr(models.StateChurned)}))
	require.NoError(t, repo.Create(ctx, &models.Student{Name: "Carlos Lima", Email: "carlos@example.com"}))

	students, total, err := repo.List(ctx, StudentFilter{LifecycleState: models.StateActive})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "maria@example.com", students[0].Email)

	students, total, err = repo.List(ctx, StudentFilter{Query: "SOUZA"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "ana@example.com", students[0].Email)

	_, total, err = repo.List(ctx, StudentFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
}

func TestListRecipientsScopesByProductAndPhone(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStudentRepository(db)
	ctx := context.Background()

	withPhone := models.Student{Name: "Maria", Email: "maria@example.com", WhatsappPhone: strPtr("5511999990000")}
	require.NoError(t, repo.Create(ctx, &withPhone))

	noPhone := models.Student{Name: "Ana", Email: "ana@example.com"}
	require.NoError(t, repo.Create(ctx, &noPhone))

	outsider := models.Student{Name: "Carlos", Email: "carlos@example.com", WhatsappPhone: strPtr("5511888880000")}
	require.NoError(t, repo.Create(ctx, &outsider))

	require.NoError(t, db.Create(&models.SalesBuyer{Email: "maria@example.com", SalesProductID: "P1", Status: models.CommercialActive, StudentID: &withPhone.ID}).Error)
	require.NoError(t, db.Create(&models.SalesBuyer{Email: "ana@example.com", SalesProductID: "P1", Status: models.CommercialActive, StudentID: &noPhone.ID}).Error)
	// an active row on another product stays out of the P1 scope
	require.NoError(t, db.Create(&models.SalesBuyer{Email: "maria@example.com", SalesProductID: "P1X", Status: models.CommercialActive, StudentID: &withPhone.ID}).Error)
	require.NoError(t, db.Create(&models.SalesBuyer{Email: "carlos@example.com", SalesProductID: "P2", Status: models.CommercialRefunded, StudentID: &outsider.ID}).Error)

	recipients, err := repo.ListRecipients(ctx, "P1", false)
	require.NoError(t, err)
	require.Len(t, recipients, 2)

	recipients, err = repo.ListRecipients(ctx, "P1", true)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	require.Equal(t, withPhone.ID, recipients[0].ID)

	// unscoped listing covers the whole registry
	recipients, err = repo.ListRecipients(ctx, "", true)
	require.NoError(t, err)
	require.Len(t, recipients, 2)
}
