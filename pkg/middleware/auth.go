package middleware

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/padron/pkg/auth"
	"github.com/platinummonkey/padron/pkg/contextkeys"
	"github.com/platinummonkey/padron/pkg/httputil"
	"github.com/platinummonkey/padron/pkg/observability"
)

// AuthMiddleware authenticates requests by session token
type AuthMiddleware struct {
	sessions *auth.SessionManager
	logger   *observability.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(sessions *auth.SessionManager, logger *observability.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		logger:   logger,
	}
}

// Handler rejects requests without a valid session and stores the
// *auth.AuthContext under contextkeys.AuthKey otherwise
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		authCtx, err := m.sessions.Validate(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrSessionExpired):
			httputil.WriteErrorBody(w, http.StatusUnauthorized, err.Error(), map[string]interface{}{
				"expired": true,
			})
			return
		case errors.Is(err, auth.ErrInvalidSession):
			httputil.WriteUnauthorized(w, "invalid session")
			return
		default:
			m.logger.WithError(err).Error("Session validation failed")
			httputil.WriteServiceUnavailable(w, "session store unavailable")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUsername(ctx, authCtx.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, ok := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}
