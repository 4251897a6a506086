package supabase

import (
	"context"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go/types"
)

type User struct {
	ID           string
	Email        string
	Role         string
	UserMetadata map[string]any
}

// Session is a GoTrue token grant.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	User         *User
}

func userFrom(u types.User) *User {
	return &User{
		ID:           u.ID.String(),
		Email:        u.Email,
		Role:         u.Role,
		UserMetadata: u.UserMetadata,
	}
}

func sessionFrom(s types.Session) *Session {
	session := &Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
	}
	if s.User.ID != uuid.Nil {
		session.User = userFrom(s.User)
	}
	return session
}

// SignIn exchanges an email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.auth.SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, authError(err)
	}
	return sessionFrom(resp.Session), nil
}

// Refresh trades a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.auth.RefreshToken(refreshToken)
	if err != nil {
		return nil, authError(err)
	}
	return sessionFrom(resp.Session), nil
}

// SignUp registers a new user. When email confirmation is enabled the
// returned session carries only the user and no tokens.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.auth.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     metadata,
	})
	if err != nil {
		return nil, authError(err)
	}

	if resp.AccessToken != "" {
		return sessionFrom(resp.Session), nil
	}
	return &Session{User: userFrom(resp.User)}, nil
}

// GetUser resolves the user that owns accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.auth.WithToken(accessToken).GetUser()
	if err != nil {
		return nil, authError(err)
	}
	return userFrom(resp.User), nil
}

// SignOut revokes the refresh tokens of the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.auth.WithToken(accessToken).Logout(); err != nil {
		return authError(err)
	}
	return nil
}
