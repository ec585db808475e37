package perspectives

import (
	"context"

	"corework/contexts/commerce/catalog-service/domain/events"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/workers"
)

// InventoryModel is the inventory perspective's materialized row. Available
// tracks Quantity directly today; it is a separate field because a future
// reservation feature would let Available diverge from Quantity without
// changing this projection's shape.
type InventoryModel struct {
	ProductID string
	Quantity  int
	Available int
}

type InventoryStore interface {
	Upsert(ctx context.Context, model InventoryModel) error
	Get(ctx context.Context, productID string) (InventoryModel, error)
}

// InventoryPerspective projects InventoryRestockedEvent onto the inventory
// materialized row. S3 (restocking to zero) is a valid Upsert, not a
// Delete: a zero-stock product still exists, it just has nothing available.
type InventoryPerspective struct {
	Store InventoryStore
}

func (p InventoryPerspective) Handle(ctx context.Context, streamID ids.ID, env envelope.Envelope) (workers.ModelAction, error) {
	restock, ok := env.Payload.(events.InventoryRestockedEvent)
	if !ok {
		return workers.ActionNoop, nil
	}

	existing, err := p.Store.Get(ctx, restock.ProductID)
	if err != nil {
		return workers.ActionNoop, err
	}
	existing.Quantity += restock.Quantity
	existing.Available = existing.Quantity

	if err := p.Store.Upsert(ctx, existing); err != nil {
		return workers.ActionNoop, err
	}
	return workers.ActionUpsert, nil
}
