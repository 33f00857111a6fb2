package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/padron/pkg/contextkeys"
	"github.com/platinummonkey/padron/pkg/httputil"
	"github.com/platinummonkey/padron/pkg/middleware"
	"github.com/platinummonkey/padron/pkg/observability"
)

// IdentityMiddleware resolves the authenticated session to a user and role
type IdentityMiddleware struct {
	engine *Engine
}

// NewIdentityMiddleware creates a new identity middleware
func NewIdentityMiddleware(engine *Engine) *IdentityMiddleware {
	return &IdentityMiddleware{engine: engine}
}

// Handler runs Identify for the session user and stores the Identity in the
// request context. It must run after middleware.AuthMiddleware.
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := middleware.GetAuthContext(r)
		if authCtx == nil || authCtx.Username == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		identity, err := m.engine.Identify(r.Context(), authCtx.Username)
		if err != nil {
			if errors.Is(err, ErrSelfRegistrationDisabled) {
				httputil.WriteForbidden(w, "user is not registered")
				return
			}
			observability.FromContext(r.Context()).WithError(err).
				WithField("username", authCtx.Username).
				Error("Failed to identify user")
			WriteError(w, err)
			return
		}

		ctx := WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects callers whose identity is not an administrator
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := GetIdentity(r.Context())
		if identity == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !identity.IsAdmin() {
			httputil.WriteForbidden(w, "administrator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithIdentity stores identity in ctx
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, identity)
}

// GetIdentity returns the caller resolved by IdentityMiddleware, nil if none
func GetIdentity(ctx context.Context) *Identity {
	identity, _ := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return identity
}
