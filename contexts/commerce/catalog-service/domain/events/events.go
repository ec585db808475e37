// Package events declares catalog-service's domain events. Every type here
// implements engine/envelope.StreamKeyer so the engine can resolve each
// event's StreamId without reflection (see design notes on the source's
// attribute-driven [StreamKey]).
package events

const (
	TypeProductCreated      = "catalog.product_created"
	TypeProductUpdated      = "catalog.product_updated"
	TypeInventoryRestocked  = "catalog.inventory_restocked"
)

// ProductCreatedEvent is produced by CreateProduct.
type ProductCreatedEvent struct {
	ProductID   string  `json:"productId"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"imageUrl"`
}

func (e ProductCreatedEvent) StreamKey() string { return e.ProductID }

// ProductUpdatedEvent is produced by UpdateProduct. Pointer fields are
// nil when the caller did not request a change to that field (§S2).
type ProductUpdatedEvent struct {
	ProductID   string   `json:"productId"`
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	ImageURL    *string  `json:"imageUrl,omitempty"`
}

func (e ProductUpdatedEvent) StreamKey() string { return e.ProductID }

// InventoryRestockedEvent is produced by RestockInventory (including the
// initial stock set at product creation, S1/S3).
type InventoryRestockedEvent struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (e InventoryRestockedEvent) StreamKey() string { return e.ProductID }
