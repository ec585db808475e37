package perspectives

import (
	"context"
	"errors"
	"testing"

	"corework/contexts/commerce/catalog-service/domain/events"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/workers"
)

// fakeProductStore is an in-memory ProductStore that also implements
// productReader, exercising ProductPerspective's read-modify-write path
// for partial updates.
type fakeProductStore struct {
	rows  map[string]ProductModel
	getErr error
}

func newFakeProductStore() *fakeProductStore {
	return &fakeProductStore{rows: make(map[string]ProductModel)}
}

func (s *fakeProductStore) Upsert(ctx context.Context, model ProductModel) error {
	s.rows[model.ProductID] = model
	return nil
}

func (s *fakeProductStore) Get(ctx context.Context, productID string) (ProductModel, error) {
	if s.getErr != nil {
		return ProductModel{}, s.getErr
	}
	return s.rows[productID], nil
}

func TestProductPerspectiveUpsertsOnCreated(t *testing.T) {
	store := newFakeProductStore()
	p := ProductPerspective{Store: store}

	env := envelope.New(ids.MustNew(), events.TypeProductCreated, events.ProductCreatedEvent{
		ProductID: "p-1", Name: "Widget", Description: "desc", Price: 9.99, ImageURL: "img",
	})
	action, err := p.Handle(context.Background(), ids.MustNew(), env)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if action != workers.ActionUpsert {
		t.Fatalf("action = %v, want ActionUpsert", action)
	}
	row, ok := store.rows["p-1"]
	if !ok {
		t.Fatalf("expected row p-1 to be upserted")
	}
	if row.Name != "Widget" || row.Price != 9.99 {
		t.Fatalf("got row %+v, want Name=Widget Price=9.99", row)
	}
}

func TestProductPerspectivePartialUpdateLeavesOtherFieldsUntouched(t *testing.T) {
	store := newFakeProductStore()
	store.rows["p-1"] = ProductModel{ProductID: "p-1", Name: "Old", Description: "Orig", Price: 19.99, ImageURL: "old.png"}
	p := ProductPerspective{Store: store}

	newName := "New Name"
	env := envelope.New(ids.MustNew(), events.TypeProductUpdated, events.ProductUpdatedEvent{
		ProductID: "p-1", Name: &newName,
	})
	action, err := p.Handle(context.Background(), ids.MustNew(), env)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if action != workers.ActionUpsert {
		t.Fatalf("action = %v, want ActionUpsert", action)
	}
	row := store.rows["p-1"]
	if row.Name != newName {
		t.Fatalf("Name = %q, want %q", row.Name, newName)
	}
	if row.Description != "Orig" || row.Price != 19.99 || row.ImageURL != "old.png" {
		t.Fatalf("got row %+v, want untouched Description/Price/ImageURL", row)
	}
}

func TestProductPerspectiveIgnoresUnassociatedEvent(t *testing.T) {
	store := newFakeProductStore()
	p := ProductPerspective{Store: store}

	env := envelope.New(ids.MustNew(), events.TypeInventoryRestocked, events.InventoryRestockedEvent{ProductID: "p-1", Quantity: 5})
	action, err := p.Handle(context.Background(), ids.MustNew(), env)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if action != workers.ActionNoop {
		t.Fatalf("action = %v, want ActionNoop for an unassociated event", action)
	}
	if len(store.rows) != 0 {
		t.Fatalf("expected no row to be written")
	}
}

func TestProductPerspectivePropagatesReadError(t *testing.T) {
	store := newFakeProductStore()
	store.getErr = errors.New("boom")
	p := ProductPerspective{Store: store}

	newName := "New Name"
	env := envelope.New(ids.MustNew(), events.TypeProductUpdated, events.ProductUpdatedEvent{ProductID: "p-1", Name: &newName})
	_, err := p.Handle(context.Background(), ids.MustNew(), env)
	if err == nil {
		t.Fatalf("expected the store's Get error to propagate")
	}
}

// fakeInventoryStore is an in-memory InventoryStore.
type fakeInventoryStore struct {
	rows   map[string]InventoryModel
	getErr error
}

func newFakeInventoryStore() *fakeInventoryStore {
	return &fakeInventoryStore{rows: make(map[string]InventoryModel)}
}

func (s *fakeInventoryStore) Upsert(ctx context.Context, model InventoryModel) error {
	s.rows[model.ProductID] = model
	return nil
}

func (s *fakeInventoryStore) Get(ctx context.Context, productID string) (InventoryModel, error) {
	if s.getErr != nil {
		return InventoryModel{}, s.getErr
	}
	return s.rows[productID], nil
}

func TestInventoryPerspectiveAccumulatesRestocks(t *testing.T) {
	store := newFakeInventoryStore()
	p := InventoryPerspective{Store: store}

	for _, qty := range []int{5, 3} {
		env := envelope.New(ids.MustNew(), events.TypeInventoryRestocked, events.InventoryRestockedEvent{ProductID: "p-1", Quantity: qty})
		if _, err := p.Handle(context.Background(), ids.MustNew(), env); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	row := store.rows["p-1"]
	if row.Quantity != 8 {
		t.Fatalf("Quantity = %d, want 8 after two restocks", row.Quantity)
	}
	if row.Available != row.Quantity {
		t.Fatalf("Available = %d, want it to match Quantity = %d", row.Available, row.Quantity)
	}
}

// TestInventoryPerspectiveAllowsRestockToZero covers S3: a zero-quantity
// restock event still upserts, it's not treated as a no-op.
func TestInventoryPerspectiveAllowsRestockToZero(t *testing.T) {
	store := newFakeInventoryStore()
	p := InventoryPerspective{Store: store}

	env := envelope.New(ids.MustNew(), events.TypeInventoryRestocked, events.InventoryRestockedEvent{ProductID: "p-1", Quantity: 0})
	action, err := p.Handle(context.Background(), ids.MustNew(), env)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if action != workers.ActionUpsert {
		t.Fatalf("action = %v, want ActionUpsert even for a zero restock", action)
	}
}

func TestInventoryPerspectivePropagatesReadError(t *testing.T) {
	store := newFakeInventoryStore()
	store.getErr = errors.New("boom")
	p := InventoryPerspective{Store: store}

	env := envelope.New(ids.MustNew(), events.TypeInventoryRestocked, events.InventoryRestockedEvent{ProductID: "p-1", Quantity: 5})
	if _, err := p.Handle(context.Background(), ids.MustNew(), env); err == nil {
		t.Fatalf("expected the store's Get error to propagate")
	}
}
