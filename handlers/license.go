package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"shaluqa.app/crm/internal/logger"
	"shaluqa.app/crm/models"
	"shaluqa.app/crm/storage"
)

type LicenseRequest struct {
	ClientID  string               `json:"client_id" validate:"required"`
	ProductID string               `json:"product_id" validate:"required"`
	Type      models.LicenseType   `json:"type" validate:"required,oneof=licencia_unica suscripcion"`
	StartDate string               `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   *string              `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Status    models.LicenseStatus `json:"status" validate:"required,oneof=activa inactiva pendiente_pago"`
}

func (lr LicenseRequest) apply(l *models.License) {
	l.ClientID = lr.ClientID
	l.ProductID = lr.ProductID
	l.Type = lr.Type
	l.StartDate = lr.StartDate
	l.EndDate = trimmed(lr.EndDate)
	l.Status = lr.Status
}

func (s *Server) ListLicenses(w http.ResponseWriter, r *http.Request) {
	licenses, err := s.Storage.ListLicenses(r.Context())
	if err != nil {
		writeInternalError(w, r, "Failed to list licenses", err)
		return
	}
	writeJSON(w, http.StatusOK, licenses)
}

func (s *Server) GetLicense(w http.ResponseWriter, r *http.Request) {
	license, err := s.Storage.GetLicense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, r, "Licencia no encontrada", err)
		return
	}
	writeJSON(w, http.StatusOK, license)
}

func (s *Server) CreateLicense(w http.ResponseWriter, r *http.Request) {
	var req LicenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.checkLicenseRefs(w, r, req) {
		return
	}

	license := &models.License{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
	}
	req.apply(license)

	if err := s.Storage.SaveLicense(r.Context(), license); err != nil {
		writeInternalError(w, r, "Failed to create license", err)
		return
	}

	logger.Info("License created", map[string]interface{}{
		"license_id": license.ID,
		"client_id":  license.ClientID,
		"status":     license.Status,
	})
	writeJSON(w, http.StatusCreated, license)
}

// UpdateLicense replaces the editable fields. last_notification_date is
// kept, so changing end_date does not re-send a notice already sent today.
func (s *Server) UpdateLicense(w http.ResponseWriter, r *http.Request) {
	license, err := s.Storage.GetLicense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, r, "Licencia no encontrada", err)
		return
	}

	var req LicenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.checkLicenseRefs(w, r, req) {
		return
	}
	req.apply(license)

	if err := s.Storage.SaveLicense(r.Context(), license); err != nil {
		writeInternalError(w, r, "Failed to update license", err)
		return
	}
	writeJSON(w, http.StatusOK, license)
}

func (s *Server) DeleteLicense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Storage.DeleteLicense(r.Context(), id); err != nil {
		writeInternalError(w, r, "Failed to delete license", err)
		return
	}

	logger.Info("License deleted", map[string]interface{}{
		"license_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// checkLicenseRefs rejects licenses pointing at a missing client or product.
func (s *Server) checkLicenseRefs(w http.ResponseWriter, r *http.Request, req LicenseRequest) bool {
	ctx := r.Context()

	if _, err := s.Storage.GetClient(ctx, req.ClientID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorResponse(w, http.StatusBadRequest, "Cliente no encontrado")
			return false
		}
		writeInternalError(w, r, "Failed to load client", err)
		return false
	}

	if _, err := s.Storage.GetProduct(ctx, req.ProductID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorResponse(w, http.StatusBadRequest, "Producto no encontrado")
			return false
		}
		writeInternalError(w, r, "Failed to load product", err)
		return false
	}

	return true
}
