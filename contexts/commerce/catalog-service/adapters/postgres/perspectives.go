package postgresadapter

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"corework/contexts/commerce/catalog-service/application/perspectives"
)

// perspectiveProductModel is ProductPerspective's materialized row,
// upserted on every ProductCreated/ProductUpdated replay. It is a
// separate table from productModel: the write side and the projection
// are independent stores that happen to share a schema today.
type perspectiveProductModel struct {
	ProductID   string `gorm:"primaryKey;column:product_id"`
	Name        string
	Description string
	Price       float64
	ImageURL    string
}

func (perspectiveProductModel) TableName() string { return "catalog_product_perspective" }

// ProductPerspectiveStore implements perspectives.ProductStore and its
// optional productReader extension.
type ProductPerspectiveStore struct {
	db *gorm.DB
}

func NewProductPerspectiveStore(db *gorm.DB) *ProductPerspectiveStore {
	return &ProductPerspectiveStore{db: db}
}

func (s *ProductPerspectiveStore) Upsert(ctx context.Context, model perspectives.ProductModel) error {
	row := perspectiveProductModel{
		ProductID:   model.ProductID,
		Name:        model.Name,
		Description: model.Description,
		Price:       model.Price,
		ImageURL:    model.ImageURL,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *ProductPerspectiveStore) Get(ctx context.Context, productID string) (perspectives.ProductModel, error) {
	var row perspectiveProductModel
	err := s.db.WithContext(ctx).
		Where("product_id = ?", strings.TrimSpace(productID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return perspectives.ProductModel{ProductID: productID}, nil
		}
		return perspectives.ProductModel{}, err
	}
	return perspectives.ProductModel{
		ProductID:   row.ProductID,
		Name:        row.Name,
		Description: row.Description,
		Price:       row.Price,
		ImageURL:    row.ImageURL,
	}, nil
}

// perspectiveInventoryModel is InventoryPerspective's materialized row.
type perspectiveInventoryModel struct {
	ProductID string `gorm:"primaryKey;column:product_id"`
	Quantity  int
	Available int
}

func (perspectiveInventoryModel) TableName() string { return "catalog_inventory_perspective" }

// InventoryPerspectiveStore implements perspectives.InventoryStore.
type InventoryPerspectiveStore struct {
	db *gorm.DB
}

func NewInventoryPerspectiveStore(db *gorm.DB) *InventoryPerspectiveStore {
	return &InventoryPerspectiveStore{db: db}
}

func (s *InventoryPerspectiveStore) Upsert(ctx context.Context, model perspectives.InventoryModel) error {
	row := perspectiveInventoryModel{
		ProductID: model.ProductID,
		Quantity:  model.Quantity,
		Available: model.Available,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *InventoryPerspectiveStore) Get(ctx context.Context, productID string) (perspectives.InventoryModel, error) {
	var row perspectiveInventoryModel
	err := s.db.WithContext(ctx).
		Where("product_id = ?", strings.TrimSpace(productID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return perspectives.InventoryModel{ProductID: productID}, nil
		}
		return perspectives.InventoryModel{}, err
	}
	return perspectives.InventoryModel{
		ProductID: row.ProductID,
		Quantity:  row.Quantity,
		Available: row.Available,
	}, nil
}
