package rbac

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/padron/pkg/httputil"
	"github.com/platinummonkey/padron/pkg/observability"
	"github.com/platinummonkey/padron/pkg/permissions"
)

// Handlers provides HTTP handlers for role and user administration
type Handlers struct {
	engine *Engine
	store  *Store
	logger *observability.Logger
}

// NewHandlers creates new administration handlers
func NewHandlers(engine *Engine, logger *observability.Logger) *Handlers {
	return &Handlers{
		engine: engine,
		store:  engine.Store(),
		logger: logger,
	}
}

// RegisterRoutes registers the administration routes. router is expected to
// be mounted under /admin behind IdentityMiddleware and RequireAdmin.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Users
	router.HandleFunc("/users", h.ListUsers).Methods("GET")
	router.HandleFunc("/users", h.CreateUser).Methods("POST")
	router.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{id}", h.DeleteUser).Methods("DELETE")
	router.HandleFunc("/users/{id}/username", h.RenameUser).Methods("PUT")
	router.HandleFunc("/users/{id}/role", h.AssignUserRole).Methods("PUT")

	// Roles
	router.HandleFunc("/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/roles/default", h.GetDefaultRole).Methods("GET")
	router.HandleFunc("/roles/default", h.SetDefaultRole).Methods("PUT")
	router.HandleFunc("/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/roles/{id}", h.DeleteRole).Methods("DELETE")
	router.HandleFunc("/roles/{id}/users", h.ListRoleUsers).Methods("GET")
	router.HandleFunc("/roles/{id}/effective-permissions", h.GetEffectivePermissions).Methods("GET")
	router.HandleFunc("/roles/{id}/name", h.RenameRole).Methods("PUT")
	router.HandleFunc("/roles/{id}/admin", h.SetAdmin).Methods("PUT")
	router.HandleFunc("/roles/{id}/permissions", h.UpdatePermissions).Methods("PUT")
	router.HandleFunc("/roles/{id}/parent", h.UpdateParent).Methods("PUT")

	// Catalog
	router.HandleFunc("/permission-entries", PermissionEntries).Methods("GET")
}

// RegisterAPIRoutes registers the caller-facing routes. router is expected to
// be mounted under /api behind IdentityMiddleware.
func (h *Handlers) RegisterAPIRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.Me).Methods("GET")
	router.HandleFunc("/permission-entries", PermissionEntries).Methods("GET")
}

// MeResponse describes the caller and what they may see
type MeResponse struct {
	User        *User                 `json:"user"`
	Role        *Role                 `json:"role"`
	IsAdmin     bool                  `json:"is_admin"`
	Permissions permissions.Effective `json:"permissions"`
}

// Me returns the caller's identity and effective permissions
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	identity := GetIdentity(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "no identity")
		return
	}

	eff, err := h.engine.EffectivePermissionsFor(r.Context(), identity.Role)
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, MeResponse{
		User:        identity.User,
		Role:        identity.Role,
		IsAdmin:     identity.IsAdmin(),
		Permissions: eff,
	})
}

// ListUsers lists all users
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.GetAllUsers(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

// CreateUser creates a user, on the default role unless role_id is given
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		RoleID   *int64 `json:"role_id,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.engine.CreateUser(r.Context(), req.Username, req.RoleID)
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// GetUser gets a user by ID
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	if user == nil {
		WriteError(w, userNotFound(id))
		return
	}
	httputil.WriteSuccess(w, user)
}

// DeleteUser deletes a user
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.engine.DeleteUser(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RenameUser changes a user's username
func (h *Handlers) RenameUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Username string `json:"username"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.engine.RenameUser(r.Context(), id, req.Username); err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AssignUserRole binds a user to another role
func (h *Handlers) AssignUserRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		RoleID *int64 `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID == nil {
		httputil.WriteBadRequest(w, "role_id is required")
		return
	}

	if err := h.engine.AssignRole(r.Context(), id, *req.RoleID); err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListRoles lists every role sorted by name
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.GetAllRoles(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// CreateRole creates a role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string              `json:"name"`
		ParentID    *int64              `json:"parent_id,omitempty"`
		Permissions permissions.Entries `json:"permissions,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.engine.CreateRole(r.Context(), req.Name, req.Permissions, req.ParentID)
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// GetDefaultRole returns the role new users are bound to
func (h *Handlers) GetDefaultRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.store.GetDefaultRole(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	if role == nil {
		httputil.WriteNotFoundError(w, "no default role")
		return
	}
	httputil.WriteSuccess(w, role)
}

// SetDefaultRole moves the default flag to another role
func (h *Handlers) SetDefaultRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoleID *int64 `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID == nil {
		httputil.WriteBadRequest(w, "role_id is required")
		return
	}

	if err := h.engine.SetDefaultRole(r.Context(), *req.RoleID); err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetRole gets a role by ID
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	if role == nil {
		WriteError(w, roleNotFound(id))
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a role, moving its users to replacement_role_id
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		ReplacementRoleID *int64 `json:"replacement_role_id,omitempty"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.engine.DeleteRole(r.Context(), id, req.ReplacementRoleID)
	if err != nil {
		WriteError(w, err)
		return
	}

	switch result {
	case RoleDeleted:
		httputil.WriteNoContent(w)
	case DeleteRejectedDefault:
		httputil.WriteErrorBody(w, http.StatusConflict, ErrDefaultRoleDeletion.Error(), map[string]interface{}{
			"result": result.String(),
		})
	case DeleteNeedsReplacement:
		httputil.WriteErrorBody(w, http.StatusConflict, ErrReplacementRequired.Error(), map[string]interface{}{
			"result": result.String(),
		})
	}
}

// ListRoleUsers lists the users bound to a role
func (h *Handlers) ListRoleUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	if role == nil {
		WriteError(w, roleNotFound(id))
		return
	}

	users, err := h.store.GetUsersByRole(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

// EffectivePermissionsResponse is the resolved view of a role
type EffectivePermissionsResponse struct {
	RoleID      int64                 `json:"role_id"`
	Permissions permissions.Effective `json:"permissions"`
	Allowed     []permissions.Key     `json:"allowed"`
}

// GetEffectivePermissions resolves a role's permissions through its chain
func (h *Handlers) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	eff, err := h.engine.EffectivePermissions(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, EffectivePermissionsResponse{
		RoleID:      id,
		Permissions: eff,
		Allowed:     eff.Allowed(),
	})
}

// RenameRole changes a role's name
func (h *Handlers) RenameRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.engine.RenameRole(r.Context(), id, req.Name); err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SetAdmin grants or revokes administration access
func (h *Handlers) SetAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		IsAdmin *bool `json:"is_admin"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.IsAdmin == nil {
		httputil.WriteBadRequest(w, "is_admin is required")
		return
	}

	if err := h.engine.SetAdminRole(r.Context(), id, *req.IsAdmin); err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// UpdatePermissions replaces a role's explicit entries
func (h *Handlers) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Permissions permissions.Entries `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permissions == nil {
		req.Permissions = permissions.Entries{}
	}

	if err := h.engine.UpdatePermissions(r.Context(), id, req.Permissions); err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// UpdateParent re-parents a role; a null parent_id detaches it
func (h *Handlers) UpdateParent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		ParentID *int64 `json:"parent_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.engine.UpdateRoleParent(r.Context(), id, req.ParentID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if result == ParentCyclic {
		httputil.WriteErrorBody(w, http.StatusConflict, "parent assignment would create a cycle", map[string]interface{}{
			"cyclic": true,
		})
		return
	}
	httputil.WriteNoContent(w)
}

// PermissionEntries lists the permission catalog
func PermissionEntries(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, permissions.Descriptors())
}

// WriteError maps the store and engine error taxonomy onto HTTP statuses
func WriteError(w http.ResponseWriter, err error) {
	var dup *DuplicateError
	switch {
	case errors.As(err, &dup):
		httputil.WriteErrorBody(w, http.StatusConflict, err.Error(), map[string]interface{}{
			"duplicate":   true,
			"existing_id": dup.ExistingID,
		})
	case errors.Is(err, ErrReservedUsername):
		httputil.WriteErrorBody(w, http.StatusConflict, err.Error(), map[string]interface{}{
			"reserved": true,
		})
	case errors.Is(err, ErrInvalid):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrSelfRegistrationDisabled):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrInvalidReplacement),
		errors.Is(err, ErrDefaultRoleDeletion),
		errors.Is(err, ErrReplacementRequired),
		errors.Is(err, ErrConstraint):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		httputil.WriteServiceUnavailable(w, "role store unavailable")
	default:
		httputil.WriteInternalError(w, err)
	}
}
