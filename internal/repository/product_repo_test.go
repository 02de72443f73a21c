package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

func TestResolveBySalesIDUnionsDirectAndMapped(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()

	direct := models.Product{Name: "Curso A", SalesProductID: "P1", IsActive: true}
	require.NoError(t, db.Create(&direct).Error)
	require.NoError(t, db.Create(&models.AccessRule{ProductID: direct.ID, Kind: models.RuleChatRole, Value: "role-a"}).Error)

	bundled := models.Product{Name: "Curso B", SalesProductID: "P2", IsActive: true}
	require.NoError(t, db.Create(&bundled).Error)
	require.NoError(t, db.Create(&models.SalesProductMapping{SalesProductID: "P1", ProductID: bundled.ID}).Error)

	// retired products never resolve
	retired := models.Product{Name: "Curso Antigo", SalesProductID: "P1", IsActive: false}
	require.NoError(t, db.Create(&retired).Error)

	products, err := repo.ResolveBySalesID(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, products, 2)

	names := []string{products[0].Name, products[1].Name}
	require.ElementsMatch(t, []string{"Curso A", "Curso B"}, names)

	// access rules come preloaded for the side-effect runner
	for _, product := range products {
		if product.ID == direct.ID {
			require.Len(t, product.AccessRules, 1)
		}
	}

	products, err = repo.ResolveBySalesID(ctx, "NOPE")
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestResolveBySalesIDDeduplicatesOverlap(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()

	product := models.Product{Name: "Curso A", SalesProductID: "P1", IsActive: true}
	require.NoError(t, db.Create(&product).Error)
	// a mapping pointing at the product's own sales id must not duplicate it
	require.NoError(t, db.Create(&models.SalesProductMapping{SalesProductID: "P1", ProductID: product.ID}).Error)

	products, err := repo.ResolveBySalesID(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, products, 1)
}

func TestListActiveSkipsRetiredProducts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProductRepository(db)

	require.NoError(t, db.Create(&models.Product{Name: "Ativo", SalesProductID: "P1", IsActive: true}).Error)
	require.NoError(t, db.Create(&models.Product{Name: "Retirado", SalesProductID: "P2", IsActive: false}).Error)

	products, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "Ativo", products[0].Name)
}
