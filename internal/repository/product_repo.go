package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

// ProductRepository provides access to the product catalog and its access rules.
type ProductRepository interface {
	GetByID(ctx context.Context, id uint) (models.Product, error)
	ListActive(ctx context.Context) ([]models.Product, error)
	// ResolveBySalesID returns every active product an external sales id
	// grants access to: products carrying the id directly plus products
	// reached through the sales-product mapping table.
	ResolveBySalesID(ctx context.Context, salesProductID string) ([]models.Product, error)
	ListClasses(ctx context.Context) ([]models.Class, error)
	GetClass(ctx context.Context, id uint) (models.Class, error)
}

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository constructs a product repository.
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) GetByID(ctx context.Context, id uint) (models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Preload("AccessRules").First(&product, id).Error
	if err != nil {
		return models.Product{}, err
	}

	return product, nil
}

func (r *productRepository) ListActive(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).
		Preload("AccessRules").
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&products).Error
	if err != nil {
		return nil, err
	}

	return products, nil
}

func (r *productRepository) ResolveBySalesID(ctx context.Context, salesProductID string) ([]models.Product, error) {
	var direct []models.Product
	err := r.db.WithContext(ctx).
		Preload("AccessRules").
		Where("sales_product_id = ? AND is_active = ?", salesProductID, true).
		Find(&direct).Error
	if err != nil {
		return nil, err
	}

	var mapped []models.Product
	err = r.db.WithContext(ctx).
		Preload("AccessRules").
		Joins("JOIN sales_product_mappings m ON m.product_id = products.id").
		Where("m.sales_product_id = ? AND products.is_active = ?", salesProductID, true).
		Find(&mapped).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[uint]struct{}, len(direct)+len(mapped))
	out := make([]models.Product, 0, len(direct)+len(mapped))
	for _, product := range append(direct, mapped...) {
		if _, dup := seen[product.ID]; dup {
			continue
		}
		seen[product.ID] = struct{}{}
		out = append(out, product)
	}

	return out, nil
}

func (r *productRepository) ListClasses(ctx context.Context) ([]models.Class, error) {
	var classes []models.Class
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&classes).Error; err != nil {
		return nil, err
	}

	return classes, nil
}

func (r *productRepository) GetClass(ctx context.Context, id uint) (models.Class, error) {
	var class models.Class
	if err := r.db.WithContext(ctx).First(&class, id).Error; err != nil {
		return models.Class{}, err
	}

	return class, nil
}
