package registry

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/padron/pkg/httputil"
	"github.com/platinummonkey/padron/pkg/observability"
	"github.com/platinummonkey/padron/pkg/permissions"
	"github.com/platinummonkey/padron/pkg/rbac"
)

// PermissionResolver resolves a role's effective permissions
type PermissionResolver interface {
	EffectivePermissionsFor(ctx context.Context, role *rbac.Role) (permissions.Effective, error)
}

// Handlers serves inhabitant lookups
type Handlers struct {
	repo     *Repository
	resolver PermissionResolver
	logger   *observability.Logger
}

// NewHandlers creates new registry handlers
func NewHandlers(repo *Repository, resolver PermissionResolver, logger *observability.Logger) *Handlers {
	return &Handlers{
		repo:     repo,
		resolver: resolver,
		logger:   logger,
	}
}

// RegisterRoutes registers the lookup route. router is expected to be
// mounted under /api behind rbac.IdentityMiddleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/inhabitants/{idDoc}", h.GetInhabitant).Methods("GET")
}

// GetInhabitant returns the fields of a record the caller's role allows
func (h *Handlers) GetInhabitant(w http.ResponseWriter, r *http.Request) {
	identity := rbac.GetIdentity(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	idDoc, ok := httputil.ParsePathStringOrError(w, r, "idDoc")
	if !ok {
		return
	}

	eff, err := h.resolver.EffectivePermissionsFor(r.Context(), identity.Role)
	if err != nil {
		rbac.WriteError(w, err)
		return
	}

	inhabitant, err := h.repo.Lookup(r.Context(), idDoc, eff)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidDocument):
		httputil.WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, ErrNoAllowedFields):
		httputil.WriteForbidden(w, err.Error())
		return
	case errors.Is(err, ErrInhabitantNotFound):
		httputil.WriteNotFoundError(w, err.Error())
		return
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Inhabitant lookup failed")
		httputil.WriteServiceUnavailable(w, "registry unavailable")
		return
	}

	observability.FromContext(r.Context()).
		WithField("id_doc", inhabitant.IDDoc).
		WithField("fields", len(inhabitant.Entries)).
		Info("Inhabitant consulted")
	httputil.WriteSuccess(w, inhabitant)
}
