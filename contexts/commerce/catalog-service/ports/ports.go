// Package ports declares catalog-service's collaborator interfaces: the
// repository its commands read/write through, and the clock used for
// timestamps. ID generation and event delivery are engine concerns —
// catalog-service depends directly on engine/ids.Provider and
// engine/uow.UnitOfWork rather than re-declaring narrower ports for them.
package ports

import (
	"context"
	"time"

	"corework/contexts/commerce/catalog-service/domain/entities"
)

type ProductRepository interface {
	CreateProduct(ctx context.Context, product entities.Product) error
	GetProduct(ctx context.Context, productID string) (entities.Product, error)
	UpdateProduct(ctx context.Context, product entities.Product) error
}

type Clock interface {
	Now() time.Time
}
