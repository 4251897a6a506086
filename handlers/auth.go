package handlers

import (
	"errors"
	"net/http"
	"strings"

	"shaluqa.app/crm/internal/auth"
	"shaluqa.app/crm/internal/logger"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required_without=Email"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required"`
}

func (lr LoginRequest) identifier() string {
	if lr.Email != "" {
		return strings.TrimSpace(lr.Email)
	}
	return strings.TrimSpace(lr.Username)
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"required"`
}

type SessionResponse struct {
	Success bool          `json:"success"`
	User    *auth.Session `json:"user"`
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := s.auth.Login(r.Context(), req.identifier(), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			logger.Info("Login rejected", map[string]interface{}{
				"identifier":  req.identifier(),
				"remote_addr": r.RemoteAddr,
			})
			writeErrorResponse(w, http.StatusUnauthorized, "Credenciales incorrectas")
			return
		}
		writeInternalError(w, r, "Login failed", err)
		return
	}

	if err := s.auth.Issue(w, session); err != nil {
		writeInternalError(w, r, "Failed to issue session", err)
		return
	}

	logger.Info("User logged in", map[string]interface{}{
		"user_id": session.UserID,
	})
	writeJSON(w, http.StatusOK, SessionResponse{Success: true, User: session})
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := s.auth.Register(r.Context(), strings.TrimSpace(req.Email), req.Password, strings.TrimSpace(req.FullName))
	if err != nil {
		if errors.Is(err, auth.ErrUnsupported) {
			writeErrorResponse(w, http.StatusNotImplemented, "Registro no disponible")
			return
		}
		writeInternalError(w, r, "Registration failed", err)
		return
	}

	if session.AccessToken != "" {
		if err := s.auth.Issue(w, session); err != nil {
			writeInternalError(w, r, "Failed to issue session", err)
			return
		}
	}

	if s.mailer != nil {
		if err := s.mailer.SendWelcome(r.Context(), req.Email, req.FullName); err != nil {
			logger.Warn("Failed to send welcome email", map[string]interface{}{
				"user_id": session.UserID,
				"error":   err.Error(),
			})
		}
	}

	logger.Info("User registered", map[string]interface{}{
		"user_id": session.UserID,
	})
	writeJSON(w, http.StatusCreated, SessionResponse{Success: true, User: session})
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(w, r); err != nil {
		// Cookies are already cleared; a failed remote revoke is not fatal.
		logger.Warn("Logout did not complete cleanly", map[string]interface{}{
			"error": err.Error(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) Session(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		writeErrorResponse(w, http.StatusUnauthorized, "No autenticado")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Success: true, User: session})
}
