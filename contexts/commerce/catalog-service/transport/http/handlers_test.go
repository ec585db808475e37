package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"corework/contexts/commerce/catalog-service/application/commands"
	"corework/contexts/commerce/catalog-service/domain/entities"
	domainerrors "corework/contexts/commerce/catalog-service/domain/errors"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/uow"
)

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

type noopFlusher struct{}

func (noopFlusher) FlushMessages(ctx context.Context, messages []envelope.Envelope) error { return nil }

func newHandlers() Handlers {
	repo := newFakeRepository()
	unitOfWork := uow.NewScoped(noopFlusher{}, ids.UUIDv7Provider{})
	clock := fixedClock{now: time.Now()}
	return Handlers{
		CreateProduct: commands.CreateProductUseCase{
			Products:    repo,
			Clock:       clock,
			IDGenerator: ids.UUIDv7Provider{},
			UnitOfWork:  unitOfWork,
		},
		UpdateProduct: commands.UpdateProductUseCase{
			Products:    repo,
			Clock:       clock,
			IDGenerator: ids.UUIDv7Provider{},
			UnitOfWork:  unitOfWork,
		},
		RestockInventory: commands.RestockInventoryUseCase{
			IDGenerator: ids.UUIDv7Provider{},
			UnitOfWork:  unitOfWork,
		},
	}
}

func TestCreateProductHandlerReturns201AndProduct(t *testing.T) {
	mux := NewMux(newHandlers())
	body, _ := json.Marshal(map[string]any{"name": "Widget", "price": 9.99, "initialStock": 5})
	req := httptest.NewRequest(http.MethodPost, "/products", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body=%s", rec.Code, rec.Body.String())
	}
	var product entities.Product
	if err := json.Unmarshal(rec.Body.Bytes(), &product); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if product.ProductID == "" || product.Name != "Widget" {
		t.Fatalf("got product %+v, want a minted ID and Name=Widget", product)
	}
}

func TestUpdateProductHandlerReturns404ForUnknownProduct(t *testing.T) {
	mux := NewMux(newHandlers())
	body, _ := json.Marshal(map[string]any{"name": "New Name"})
	req := httptest.NewRequest(http.MethodPatch, "/products/missing", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body=%s", rec.Code, rec.Body.String())
	}
}

func TestUpdateProductHandlerReturns204OnSuccess(t *testing.T) {
	handlers := newHandlers()
	mux := NewMux(handlers)

	createBody, _ := json.Marshal(map[string]any{"name": "Widget", "price": 1.0})
	createReq := httptest.NewRequest(http.MethodPost, "/products", bytes.NewReader(createBody))
	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, createReq)
	var product entities.Product
	if err := json.Unmarshal(createRec.Body.Bytes(), &product); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	updateBody, _ := json.Marshal(map[string]any{"name": "Updated Widget"})
	updateReq := httptest.NewRequest(http.MethodPatch, "/products/"+product.ProductID, bytes.NewReader(updateBody))
	updateRec := httptest.NewRecorder()
	mux.ServeHTTP(updateRec, updateReq)

	if updateRec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body=%s", updateRec.Code, updateRec.Body.String())
	}
}

func TestRestockInventoryHandlerReturns400OnNegativeQuantity(t *testing.T) {
	mux := NewMux(newHandlers())
	body, _ := json.Marshal(map[string]any{"quantity": -1})
	req := httptest.NewRequest(http.MethodPost, "/products/p-1/restock", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body=%s", rec.Code, rec.Body.String())
	}
}

func TestRestockInventoryHandlerReturns204OnSuccess(t *testing.T) {
	mux := NewMux(newHandlers())
	body, _ := json.Marshal(map[string]any{"quantity": 5})
	req := httptest.NewRequest(http.MethodPost, "/products/p-1/restock", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body=%s", rec.Code, rec.Body.String())
	}
}
