package auth

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials means the username or password did not match
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSession means the token is malformed, forged or revoked
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionExpired means the token was valid but has expired
	ErrSessionExpired = errors.New("session expired")
)

// AuthContext is the authenticated session attached to a request
type AuthContext struct {
	Username  string    `json:"username"`
	SessionID string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on a successful login
type LoginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}
