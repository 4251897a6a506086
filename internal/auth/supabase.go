package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"shaluqa.app/crm/internal/logger"
	"shaluqa.app/crm/internal/supabase"
)

const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"

	refreshTokenTTL = 30 * 24 * time.Hour
	defaultTokenTTL = time.Hour
)

// SupabaseAuthenticator delegates accounts to Supabase Auth and keeps the
// tokens in the sb-access-token and sb-refresh-token cookies.
type SupabaseAuthenticator struct {
	client       *supabase.Client
	secureCookie bool
	now          func() time.Time
}

func NewSupabaseAuthenticator(client *supabase.Client, secureCookie bool) *SupabaseAuthenticator {
	return &SupabaseAuthenticator{
		client:       client,
		secureCookie: secureCookie,
		now:          time.Now,
	}
}

func (a *SupabaseAuthenticator) Login(ctx context.Context, email, password string) (*Session, error) {
	grant, err := a.client.SignIn(ctx, email, password)
	if err != nil {
		if status := supabase.StatusCode(err); status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("supabase sign in: %w", err)
	}
	return a.fromGrant(grant), nil
}

func (a *SupabaseAuthenticator) Register(ctx context.Context, email, password, name string) (*Session, error) {
	grant, err := a.client.SignUp(ctx, email, password, map[string]any{"full_name": name})
	if err != nil {
		return nil, fmt.Errorf("supabase sign up: %w", err)
	}

	session := a.fromGrant(grant)
	if session.Name == "" {
		session.Name = name
	}
	return session, nil
}

func (a *SupabaseAuthenticator) Authenticate(w http.ResponseWriter, r *http.Request) (*Session, error) {
	access := bearerToken(r)
	if access == "" {
		access = cookieValue(r, AccessTokenCookie)
	}
	refresh := cookieValue(r, RefreshTokenCookie)

	if access != "" {
		user, err := a.client.GetUser(r.Context(), access)
		if err == nil {
			s := sessionFromUser(user)
			s.AccessToken = access
			s.RefreshToken = refresh
			return s, nil
		}
		if status := supabase.StatusCode(err); status != http.StatusUnauthorized && status != http.StatusForbidden {
			return nil, fmt.Errorf("supabase get user: %w", err)
		}
	}

	if refresh == "" {
		return nil, ErrNotAuthenticated
	}

	grant, err := a.client.Refresh(r.Context(), refresh)
	if err != nil {
		logger.Debug("Session refresh failed", map[string]interface{}{
			"error": err.Error(),
		})
		_ = a.Logout(w, r)
		return nil, ErrNotAuthenticated
	}

	session := a.fromGrant(grant)
	if err := a.Issue(w, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (a *SupabaseAuthenticator) Issue(w http.ResponseWriter, s *Session) error {
	if s.AccessToken == "" {
		return errors.New("session has no access token")
	}

	ttl := time.Duration(s.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	setCookie(w, AccessTokenCookie, s.AccessToken, ttl, a.secureCookie)
	if s.RefreshToken != "" {
		setCookie(w, RefreshTokenCookie, s.RefreshToken, refreshTokenTTL, a.secureCookie)
	}
	return nil
}

func (a *SupabaseAuthenticator) Logout(w http.ResponseWriter, r *http.Request) error {
	access := cookieValue(r, AccessTokenCookie)
	clearCookie(w, AccessTokenCookie, a.secureCookie)
	clearCookie(w, RefreshTokenCookie, a.secureCookie)

	if access == "" {
		return nil
	}
	if err := a.client.SignOut(r.Context(), access); err != nil {
		return fmt.Errorf("supabase sign out: %w", err)
	}
	return nil
}

func (a *SupabaseAuthenticator) fromGrant(grant *supabase.Session) *Session {
	s := &Session{}
	if grant.User != nil {
		s = sessionFromUser(grant.User)
	}
	s.AccessToken = grant.AccessToken
	s.RefreshToken = grant.RefreshToken
	s.ExpiresIn = grant.ExpiresIn
	if grant.ExpiresIn > 0 {
		s.ExpiresAt = a.now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	}
	return s
}

func sessionFromUser(u *supabase.User) *Session {
	s := &Session{
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.Email,
		Role:   u.Role,
	}
	if name, ok := u.UserMetadata["full_name"].(string); ok && name != "" {
		s.Name = name
	}
	return s
}
