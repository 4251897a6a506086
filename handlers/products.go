package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"shaluqa.app/crm/internal/logger"
	"shaluqa.app/crm/models"
)

type ProductRequest struct {
	Name              string  `json:"name" validate:"required"`
	Description       *string `json:"description"`
	PriceOnePayment   float64 `json:"price_one_payment" validate:"gte=0"`
	PriceSubscription float64 `json:"price_subscription" validate:"gte=0"`
}

func (pr ProductRequest) apply(p *models.Product) {
	p.Name = strings.TrimSpace(pr.Name)
	p.Description = trimmed(pr.Description)
	p.PriceOnePayment = pr.PriceOnePayment
	p.PriceSubscription = pr.PriceSubscription
}

func (s *Server) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.Storage.ListProducts(r.Context())
	if err != nil {
		writeInternalError(w, r, "Failed to list products", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.Storage.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, r, "Producto no encontrado", err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	product := &models.Product{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
	}
	req.apply(product)

	if err := s.Storage.SaveProduct(r.Context(), product); err != nil {
		writeInternalError(w, r, "Failed to create product", err)
		return
	}

	logger.Info("Product created", map[string]interface{}{
		"product_id": product.ID,
	})
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.Storage.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, r, "Producto no encontrado", err)
		return
	}

	var req ProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.apply(product)

	if err := s.Storage.SaveProduct(r.Context(), product); err != nil {
		writeInternalError(w, r, "Failed to update product", err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Storage.DeleteProduct(r.Context(), id); err != nil {
		writeInternalError(w, r, "Failed to delete product", err)
		return
	}

	logger.Info("Product deleted", map[string]interface{}{
		"product_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
