// Package http is catalog-service's transport: a handful of unexported
// net/http handlers with no OpenAPI generation. It exists to give the
// sample app an entry point, not to demonstrate an HTTP framework.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"corework/contexts/commerce/catalog-service/application/commands"
	domainerrors "corework/contexts/commerce/catalog-service/domain/errors"
)

// Handlers bundles catalog-service's use cases behind a net/http.Handler.
type Handlers struct {
	CreateProduct   commands.CreateProductUseCase
	UpdateProduct   commands.UpdateProductUseCase
	RestockInventory commands.RestockInventoryUseCase
}

func NewMux(h Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /products", h.createProduct)
	mux.HandleFunc("PATCH /products/{productID}", h.updateProduct)
	mux.HandleFunc("POST /products/{productID}/restock", h.restockInventory)
	return mux
}

type createProductRequest struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Price        float64 `json:"price"`
	ImageURL     string  `json:"imageUrl"`
	InitialStock int     `json:"initialStock"`
}

func (h Handlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := h.CreateProduct.Execute(r.Context(), commands.CreateProductCommand{
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		ImageURL:     req.ImageURL,
		InitialStock: req.InitialStock,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

type updateProductRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	ImageURL    *string  `json:"imageUrl"`
}

func (h Handlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productID")
	var req updateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.UpdateProduct.Execute(r.Context(), commands.UpdateProductCommand{
		ProductID:   productID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type restockInventoryRequest struct {
	Quantity int `json:"quantity"`
}

func (h Handlers) restockInventory(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productID")
	var req restockInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.RestockInventory.Execute(r.Context(), commands.RestockInventoryCommand{
		ProductID: productID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domainerrors.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainerrors.ErrInvalidProductInput),
		errors.Is(err, domainerrors.ErrNegativeStock):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
