package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"shaluqa.app/crm/internal/auth"
	"shaluqa.app/crm/internal/logger"
	"shaluqa.app/crm/models"
	"shaluqa.app/crm/storage"
)

type ClientRequest struct {
	Name    string  `json:"name" validate:"required"`
	Email   string  `json:"email" validate:"required,email"`
	Phone   *string `json:"phone"`
	Company *string `json:"company"`
}

func (cr ClientRequest) apply(c *models.Client) {
	c.Name = strings.TrimSpace(cr.Name)
	c.Email = strings.TrimSpace(cr.Email)
	c.Phone = trimmed(cr.Phone)
	c.Company = trimmed(cr.Company)
}

func (s *Server) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.Storage.ListClients(r.Context())
	if err != nil {
		writeInternalError(w, r, "Failed to list clients", err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) GetClient(w http.ResponseWriter, r *http.Request) {
	client, err := s.Storage.GetClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, r, "Cliente no encontrado", err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (s *Server) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	client := &models.Client{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
	}
	req.apply(client)
	if session, ok := auth.FromContext(r.Context()); ok {
		client.CreatedBy = &session.UserID
	}

	if err := s.Storage.SaveClient(r.Context(), client); err != nil {
		writeInternalError(w, r, "Failed to create client", err)
		return
	}

	logger.Info("Client created", map[string]interface{}{
		"client_id": client.ID,
	})
	writeJSON(w, http.StatusCreated, client)
}

func (s *Server) UpdateClient(w http.ResponseWriter, r *http.Request) {
	client, err := s.Storage.GetClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, r, "Cliente no encontrado", err)
		return
	}

	var req ClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.apply(client)

	if err := s.Storage.SaveClient(r.Context(), client); err != nil {
		writeInternalError(w, r, "Failed to update client", err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (s *Server) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Storage.DeleteClient(r.Context(), id); err != nil {
		writeInternalError(w, r, "Failed to delete client", err)
		return
	}

	logger.Info("Client deleted", map[string]interface{}{
		"client_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeLookupError maps storage.ErrNotFound to 404 and anything else to 500.
func (s *Server) writeLookupError(w http.ResponseWriter, r *http.Request, notFound string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, notFound)
		return
	}
	writeInternalError(w, r, "Lookup failed", err)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
