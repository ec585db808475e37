package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"corework/contexts/commerce/catalog-service/domain/entities"
	domainerrors "corework/contexts/commerce/catalog-service/domain/errors"
	"corework/contexts/commerce/catalog-service/domain/events"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/uow"
)

// fakeRepository is an in-memory ports.ProductRepository, keyed by
// ProductID.
type fakeRepository struct {
	mu       sync.Mutex
	products map[string]entities.Product
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{products: make(map[string]entities.Product)}
}

func (r *fakeRepository) CreateProduct(ctx context.Context, product entities.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[product.ProductID] = product
	return nil
}

func (r *fakeRepository) UpdateProduct(ctx context.Context, product entities.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[product.ProductID]; !ok {
		return domainerrors.ErrProductNotFound
	}
	r.products[product.ProductID] = product
	return nil
}

func (r *fakeRepository) GetProduct(ctx context.Context, productID string) (entities.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[productID]
	if !ok {
		return entities.Product{}, domainerrors.ErrProductNotFound
	}
	return product, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeFlusher is an engine/uow.Flusher that records every flushed
// envelope, standing in for a coordinator.Coordinator in these tests.
type fakeFlusher struct {
	mu       sync.Mutex
	flushed  []envelope.Envelope
}

func (f *fakeFlusher) FlushMessages(ctx context.Context, messages []envelope.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = append(f.flushed, messages...)
	return nil
}

func (f *fakeFlusher) messageTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.flushed))
	for i, env := range f.flushed {
		out[i] = env.MessageType
	}
	return out
}

func newTestUoW() (*fakeFlusher, uow.UnitOfWork) {
	flusher := &fakeFlusher{}
	return flusher, uow.NewScoped(flusher, ids.UUIDv7Provider{})
}

func TestCreateProductEmitsCreatedAndRestockedEvents(t *testing.T) {
	flusher, unitOfWork := newTestUoW()
	uc := CreateProductUseCase{
		Products:    newFakeRepository(),
		Clock:       fixedClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		IDGenerator: ids.UUIDv7Provider{},
		UnitOfWork:  unitOfWork,
	}

	product, err := uc.Execute(context.Background(), CreateProductCommand{
		Name:         "Widget",
		Description:  "A widget",
		Price:        9.99,
		InitialStock: 5,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if product.ProductID == "" {
		t.Fatalf("expected a minted ProductID")
	}

	types := flusher.messageTypes()
	if len(types) != 2 {
		t.Fatalf("got %d flushed events, want 2: %v", len(types), types)
	}
	if types[0] != events.TypeProductCreated || types[1] != events.TypeInventoryRestocked {
		t.Fatalf("got event order %v, want [ProductCreated, InventoryRestocked]", types)
	}
}

func TestCreateProductRejectsNegativeInitialStock(t *testing.T) {
	_, unitOfWork := newTestUoW()
	uc := CreateProductUseCase{
		Products:    newFakeRepository(),
		Clock:       fixedClock{now: time.Now()},
		IDGenerator: ids.UUIDv7Provider{},
		UnitOfWork:  unitOfWork,
	}
	_, err := uc.Execute(context.Background(), CreateProductCommand{Name: "Widget", InitialStock: -1})
	if !errors.Is(err, domainerrors.ErrNegativeStock) {
		t.Fatalf("got err %v, want ErrNegativeStock", err)
	}
}

// TestUpdateProductPartialUpdateLeavesOtherFieldsUntouched covers S2:
// updating the name alone must not disturb description/price/imageUrl.
func TestUpdateProductPartialUpdateLeavesOtherFieldsUntouched(t *testing.T) {
	repo := newFakeRepository()
	existing := entities.Product{
		ProductID:   "p-1",
		Name:        "Old Name",
		Description: "Original description",
		Price:       19.99,
		ImageURL:    "https://example.com/old.png",
	}
	if err := repo.CreateProduct(context.Background(), existing); err != nil {
		t.Fatalf("seed CreateProduct: %v", err)
	}

	flusher, unitOfWork := newTestUoW()
	uc := UpdateProductUseCase{
		Products:    repo,
		Clock:       fixedClock{now: time.Now()},
		IDGenerator: ids.UUIDv7Provider{},
		UnitOfWork:  unitOfWork,
	}

	newName := "New Name"
	if err := uc.Execute(context.Background(), UpdateProductCommand{ProductID: "p-1", Name: &newName}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	updated, err := repo.GetProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if updated.Name != newName {
		t.Fatalf("Name = %q, want %q", updated.Name, newName)
	}
	if updated.Description != existing.Description {
		t.Fatalf("Description changed to %q, want untouched %q", updated.Description, existing.Description)
	}
	if updated.Price != existing.Price {
		t.Fatalf("Price changed to %v, want untouched %v", updated.Price, existing.Price)
	}
	if updated.ImageURL != existing.ImageURL {
		t.Fatalf("ImageURL changed to %q, want untouched %q", updated.ImageURL, existing.ImageURL)
	}

	types := flusher.messageTypes()
	if len(types) != 1 || types[0] != events.TypeProductUpdated {
		t.Fatalf("got flushed events %v, want exactly one ProductUpdated", types)
	}
}

func TestUpdateProductUnknownProductFails(t *testing.T) {
	_, unitOfWork := newTestUoW()
	uc := UpdateProductUseCase{
		Products:    newFakeRepository(),
		Clock:       fixedClock{now: time.Now()},
		IDGenerator: ids.UUIDv7Provider{},
		UnitOfWork:  unitOfWork,
	}
	newName := "Whatever"
	err := uc.Execute(context.Background(), UpdateProductCommand{ProductID: "missing", Name: &newName})
	if !errors.Is(err, domainerrors.ErrProductNotFound) {
		t.Fatalf("got err %v, want ErrProductNotFound", err)
	}
}

// TestRestockInventoryAllowsZero covers S3: restocking to zero is valid,
// not an error.
func TestRestockInventoryAllowsZero(t *testing.T) {
	flusher, unitOfWork := newTestUoW()
	uc := RestockInventoryUseCase{
		IDGenerator: ids.UUIDv7Provider{},
		UnitOfWork:  unitOfWork,
	}
	if err := uc.Execute(context.Background(), RestockInventoryCommand{ProductID: "p-1", Quantity: 0}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	types := flusher.messageTypes()
	if len(types) != 1 || types[0] != events.TypeInventoryRestocked {
		t.Fatalf("got flushed events %v, want exactly one InventoryRestocked", types)
	}
}

func TestRestockInventoryRejectsNegativeQuantity(t *testing.T) {
	_, unitOfWork := newTestUoW()
	uc := RestockInventoryUseCase{
		IDGenerator: ids.UUIDv7Provider{},
		UnitOfWork:  unitOfWork,
	}
	err := uc.Execute(context.Background(), RestockInventoryCommand{ProductID: "p-1", Quantity: -1})
	if !errors.Is(err, domainerrors.ErrNegativeStock) {
		t.Fatalf("got err %v, want ErrNegativeStock", err)
	}
}
