package auth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator verifies a username and password and returns the canonical
// username the session is issued for
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// StaticAuthenticator checks credentials against bcrypt hashes loaded from
// the deployment profile
type StaticAuthenticator struct {
	hashes map[string][]byte
	domain string
}

// NewStaticAuthenticator builds an authenticator over username to bcrypt hash
// pairs. domain, when set, is stripped from "user@domain" logins.
func NewStaticAuthenticator(hashes map[string]string, domain string) (*StaticAuthenticator, error) {
	a := &StaticAuthenticator{
		hashes: make(map[string][]byte, len(hashes)),
		domain: strings.TrimPrefix(strings.ToLower(domain), "@"),
	}
	for username, hash := range hashes {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid bcrypt hash for %s: %w", username, err)
		}
		a.hashes[a.Normalize(username)] = []byte(hash)
	}
	return a, nil
}

// Normalize trims the login and strips the configured domain suffix
func (a *StaticAuthenticator) Normalize(username string) string {
	username = strings.TrimSpace(username)
	if a.domain == "" {
		return username
	}
	if at := strings.LastIndex(username, "@"); at >= 0 && strings.EqualFold(username[at+1:], a.domain) {
		return username[:at]
	}
	return username
}

// Authenticate implements Authenticator
func (a *StaticAuthenticator) Authenticate(_ context.Context, username, password string) (string, error) {
	username = a.Normalize(username)
	hash, ok := a.hashes[username]
	if !ok || password == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return username, nil
}

// HashPassword returns a bcrypt hash suitable for the profile's users section
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
