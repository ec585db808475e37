package postgresadapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"corework/contexts/commerce/catalog-service/domain/entities"
	domainerrors "corework/contexts/commerce/catalog-service/domain/errors"
)

// productModel is the write-side product table; distinct from
// perspectiveProductModel, which materializes the product perspective's
// read model and is populated only by replayed events.
type productModel struct {
	ProductID   string `gorm:"primaryKey;column:product_id"`
	Name        string
	Description string
	Price       float64
	ImageURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (productModel) TableName() string { return "catalog_products" }

func productModelFromEntity(p entities.Product) productModel {
	return productModel{
		ProductID:   p.ProductID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		ImageURL:    p.ImageURL,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (m productModel) toEntity() entities.Product {
	return entities.Product{
		ProductID:   m.ProductID,
		Name:        m.Name,
		Description: m.Description,
		Price:       m.Price,
		ImageURL:    m.ImageURL,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// Repository is catalog-service's ports.ProductRepository implementation.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateProduct(ctx context.Context, product entities.Product) error {
	row := productModelFromEntity(product)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	return nil
}

func (r *Repository) UpdateProduct(ctx context.Context, product entities.Product) error {
	result := r.db.WithContext(ctx).
		Model(&productModel{}).
		Where("product_id = ?", strings.TrimSpace(product.ProductID)).
		Updates(productModelFromEntity(product))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrProductNotFound
	}
	return nil
}

func (r *Repository) GetProduct(ctx context.Context, productID string) (entities.Product, error) {
	var row productModel
	err := r.db.WithContext(ctx).
		Where("product_id = ?", strings.TrimSpace(productID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Product{}, domainerrors.ErrProductNotFound
		}
		return entities.Product{}, err
	}
	return row.toEntity(), nil
}

// AllModels lists the tables this adapter owns (the product write-side
// table and the two perspective tables), for
// db.Connect's AutoMigrate call.
func AllModels() []any {
	return []any{
		&productModel{},
		&perspectiveProductModel{},
		&perspectiveInventoryModel{},
	}
}
