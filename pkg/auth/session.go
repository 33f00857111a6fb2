package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "padron"

// SessionManager issues and validates HS256 session tokens
type SessionManager struct {
	secret      []byte
	ttl         time.Duration
	revocations RevocationStore
	now         func() time.Time
}

// NewSessionManager creates a session manager. revocations may be nil, in
// which case logout only clears the client cookie.
func NewSessionManager(secret []byte, ttl time.Duration, revocations RevocationStore) (*SessionManager, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &SessionManager{
		secret:      secret,
		ttl:         ttl,
		revocations: revocations,
		now:         time.Now,
	}, nil
}

// TTL returns the configured session lifetime
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a new session token for username
func (m *SessionManager) Issue(username string) (string, *AuthContext, error) {
	now := m.now()
	authCtx := &AuthContext{
		Username:  username,
		SessionID: uuid.New().String(),
		IssuedAt:  now.Truncate(time.Second),
		ExpiresAt: now.Add(m.ttl).Truncate(time.Second),
	}

	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   authCtx.Username,
		ID:        authCtx.SessionID,
		IssuedAt:  jwt.NewNumericDate(authCtx.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(authCtx.ExpiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, authCtx, nil
}

// Validate parses token and checks signature, expiry and revocation
func (m *SessionManager) Validate(ctx context.Context, token string) (*AuthContext, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidSession)
	}

	if m.revocations != nil {
		revoked, err := m.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, fmt.Errorf("%w: revoked", ErrInvalidSession)
		}
	}

	authCtx := &AuthContext{
		Username:  claims.Subject,
		SessionID: claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		authCtx.IssuedAt = claims.IssuedAt.Time
	}
	return authCtx, nil
}

// Revoke invalidates a session until its natural expiry
func (m *SessionManager) Revoke(ctx context.Context, authCtx *AuthContext) error {
	if m.revocations == nil || authCtx == nil {
		return nil
	}
	return m.revocations.Revoke(ctx, authCtx.SessionID, authCtx.ExpiresAt)
}
