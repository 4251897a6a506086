// Package auth resolves the user behind a request. Sessions live in the
// request context; there is no process-wide login state.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"shaluqa.app/crm/internal/logger"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrUnsupported        = errors.New("operation not supported by this auth mode")
)

const unauthenticatedMessage = "No autenticado"

type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`

	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	ExpiresIn    int    `json:"-"`
}

// Authenticator is one login backend.
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (*Session, error)
	Register(ctx context.Context, email, password, name string) (*Session, error)
	// Authenticate resolves the session carried by r. It may refresh
	// credentials and write new cookies to w.
	Authenticate(w http.ResponseWriter, r *http.Request) (*Session, error)
	// Issue writes the cookies that carry s.
	Issue(w http.ResponseWriter, s *Session) error
	Logout(w http.ResponseWriter, r *http.Request) error
}

type contextKey struct{}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}

// Require rejects requests without a valid session and stores the session in
// the request context otherwise.
func Require(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := a.Authenticate(w, r)
			if err != nil {
				if !errors.Is(err, ErrNotAuthenticated) {
					logger.Warn("Session validation failed", map[string]interface{}{
						"path":  r.URL.Path,
						"error": err.Error(),
					})
				}
				jsonError(w, unauthenticatedMessage, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), session)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func cookieValue(r *http.Request, name string) string {
	if c, err := r.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}

func setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
