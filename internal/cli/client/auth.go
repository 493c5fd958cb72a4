package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const (
	PathLogin    = "/auth/login"
	PathRegister = "/auth/register"
	PathMe       = "/auth/me"
)

// User is the identity returned by /auth/me
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Nome  string `json:"nome"`
	Role  string `json:"role"`
}

// IsUser reports whether the account has the regular user role
func (u *User) IsUser() bool {
	return u != nil && u.Role == RoleUser
}

const RoleUser = "user"

// TokenResponse represents the login response
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Nome     string `json:"nome" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

// Login submits the password grant form and returns the access token.
// The credentials go form-encoded as username/password, not JSON.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	var tokenResp TokenResponse
	if err := c.Do(ctx, http.MethodPost, PathLogin, Form(form), &tokenResp); err != nil {
		return "", err
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("login response did not include an access token")
	}
	return tokenResp.AccessToken, nil
}

// Register creates an account. It does not authenticate.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	var user User
	if err := c.Do(ctx, http.MethodPost, PathRegister, req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Me returns the identity behind the stored token
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.Do(ctx, http.MethodGet, PathMe, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
