// Package perspectives implements catalog-service's two read models:
// ProductPerspective (name/description/price) and InventoryPerspective
// (quantity/available), each an engine/workers.ProjectionHandler.
package perspectives

import (
	"context"

	"corework/contexts/commerce/catalog-service/domain/events"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/workers"
)

const (
	NameProduct   = "catalog.product_perspective"
	NameInventory = "catalog.inventory_perspective"
)

// ProductModel is the product perspective's materialized row.
type ProductModel struct {
	ProductID   string
	Name        string
	Description string
	Price       float64
	ImageURL    string
}

// ProductStore is the narrow persistence port ProductPerspective writes
// through; adapters/postgres implements it against the catalog schema.
type ProductStore interface {
	Upsert(ctx context.Context, model ProductModel) error
}

// ProductPerspective projects ProductCreatedEvent/ProductUpdatedEvent onto
// the product materialized row.
type ProductPerspective struct {
	Store ProductStore
}

func (p ProductPerspective) Handle(ctx context.Context, streamID ids.ID, env envelope.Envelope) (workers.ModelAction, error) {
	switch payload := env.Payload.(type) {
	case events.ProductCreatedEvent:
		if err := p.Store.Upsert(ctx, ProductModel{
			ProductID:   payload.ProductID,
			Name:        payload.Name,
			Description: payload.Description,
			Price:       payload.Price,
			ImageURL:    payload.ImageURL,
		}); err != nil {
			return workers.ActionNoop, err
		}
		return workers.ActionUpsert, nil

	case events.ProductUpdatedEvent:
		existing, err := p.current(ctx, payload.ProductID)
		if err != nil {
			return workers.ActionNoop, err
		}
		if payload.Name != nil {
			existing.Name = *payload.Name
		}
		if payload.Description != nil {
			existing.Description = *payload.Description
		}
		if payload.Price != nil {
			existing.Price = *payload.Price
		}
		if payload.ImageURL != nil {
			existing.ImageURL = *payload.ImageURL
		}
		if err := p.Store.Upsert(ctx, existing); err != nil {
			return workers.ActionNoop, err
		}
		return workers.ActionUpsert, nil

	default:
		// Events this perspective isn't associated with (e.g.
		// InventoryRestockedEvent) reach here if the association table was
		// mis-registered; treat as a no-op rather than an error.
		return workers.ActionNoop, nil
	}
}

// current re-reads the product row the update applies to. ProductStore only
// exposes Upsert, so callers needing read-modify-write pass a store that
// also implements productReader; adapters/postgres does.
func (p ProductPerspective) current(ctx context.Context, productID string) (ProductModel, error) {
	if reader, ok := p.Store.(productReader); ok {
		return reader.Get(ctx, productID)
	}
	return ProductModel{ProductID: productID}, nil
}

type productReader interface {
	Get(ctx context.Context, productID string) (ProductModel, error)
}
