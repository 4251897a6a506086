package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	SessionCookie = "crm_session"

	localSessionTTL = 24 * time.Hour
	localIssuer     = "shaluqa-crm"
	localRole       = "admin"
)

type localClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// LocalAuthenticator checks a single configured account and keeps the
// session in a signed JWT cookie.
type LocalAuthenticator struct {
	username     string
	password     string
	secret       []byte
	secureCookie bool
	now          func() time.Time
}

func NewLocalAuthenticator(username, password, secret string, secureCookie bool) *LocalAuthenticator {
	return &LocalAuthenticator{
		username:     username,
		password:     password,
		secret:       []byte(secret),
		secureCookie: secureCookie,
		now:          time.Now,
	}
}

func (a *LocalAuthenticator) Login(ctx context.Context, identifier, password string) (*Session, error) {
	userOK := subtle.ConstantTimeCompare([]byte(identifier), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	session := &Session{
		UserID:    a.username,
		Name:      a.username,
		Role:      localRole,
		ExpiresAt: now.Add(localSessionTTL),
		ExpiresIn: int(localSessionTTL.Seconds()),
	}

	token, err := a.sign(session, now)
	if err != nil {
		return nil, err
	}
	session.AccessToken = token
	return session, nil
}

func (a *LocalAuthenticator) Register(ctx context.Context, email, password, name string) (*Session, error) {
	return nil, ErrUnsupported
}

func (a *LocalAuthenticator) sign(s *Session, now time.Time) (string, error) {
	claims := &localClaims{
		Name: s.Name,
		Role: s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    localIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return token, nil
}

func (a *LocalAuthenticator) Authenticate(w http.ResponseWriter, r *http.Request) (*Session, error) {
	raw := bearerToken(r)
	if raw == "" {
		raw = cookieValue(r, SessionCookie)
	}
	if raw == "" {
		return nil, ErrNotAuthenticated
	}

	claims := &localClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(localIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	session := &Session{
		UserID:      claims.Subject,
		Name:        claims.Name,
		Role:        claims.Role,
		AccessToken: raw,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (a *LocalAuthenticator) Issue(w http.ResponseWriter, s *Session) error {
	setCookie(w, SessionCookie, s.AccessToken, localSessionTTL, a.secureCookie)
	return nil
}

func (a *LocalAuthenticator) Logout(w http.ResponseWriter, r *http.Request) error {
	clearCookie(w, SessionCookie, a.secureCookie)
	return nil
}
