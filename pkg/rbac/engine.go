package rbac

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/padron/pkg/observability"
	"github.com/platinummonkey/padron/pkg/permissions"
)

var engineTracer = otel.Tracer("padron/rbac/engine")

// EngineConfig controls identity provisioning
type EngineConfig struct {
	// SelfRegistration provisions unknown users on the default role
	SelfRegistration bool
	// AuxiliaryUsername is the reserved administrator account, empty to disable
	AuxiliaryUsername string
}

// Engine resolves effective permissions and orchestrates role mutations
type Engine struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
	config  EngineConfig
}

// NewEngine creates an engine over store. metrics may be nil.
func NewEngine(store *Store, logger *observability.Logger, metrics *observability.Metrics, config EngineConfig) *Engine {
	return &Engine{
		store:   store,
		logger:  logger,
		metrics: metrics,
		config:  config,
	}
}

// Store returns the underlying role store
func (e *Engine) Store() *Store {
	return e.store
}

// EffectivePermissions resolves every catalog key for roleID
func (e *Engine) EffectivePermissions(ctx context.Context, roleID int64) (permissions.Effective, error) {
	start := time.Now()
	chain, _, err := e.loadChain(ctx, e.store, roleID)
	if err != nil {
		e.metrics.RecordResolution("error", time.Since(start))
		return nil, err
	}
	eff := permissions.Resolve(chain)
	e.metrics.RecordResolution("ok", time.Since(start))
	return eff, nil
}

// EffectivePermissionsFor resolves an already loaded role, reading only its
// ancestors from the store
func (e *Engine) EffectivePermissionsFor(ctx context.Context, role *Role) (permissions.Effective, error) {
	if !role.HasParent() {
		e.metrics.RecordResolution("ok", 0)
		return permissions.Resolve(permissions.Chain{role.Entries}), nil
	}

	start := time.Now()
	ancestors, err := e.store.Ancestry(ctx, *role.ParentID)
	if err != nil {
		e.metrics.RecordResolution("error", time.Since(start))
		return nil, err
	}
	chain := make(permissions.Chain, 0, len(ancestors)+1)
	chain = append(chain, role.Entries)
	for _, a := range ancestors {
		chain = append(chain, a.Entries)
	}
	e.metrics.RecordResolution("ok", time.Since(start))
	return permissions.Resolve(chain), nil
}

// loadChain reads roleID and its ancestors in one query
func (e *Engine) loadChain(ctx context.Context, s *Store, roleID int64) (permissions.Chain, []*Role, error) {
	roles, err := s.Ancestry(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	if len(roles) == 0 {
		return nil, nil, roleNotFound(roleID)
	}
	if len(roles) > MaxChainDepth {
		e.logger.WithField("role_id", roleID).Warn("Role chain reached the maximum depth, hierarchy contains a cycle")
	}

	chain := make(permissions.Chain, len(roles))
	for i, r := range roles {
		chain[i] = r.Entries
	}
	return chain, roles, nil
}

// UpdateRoleParent re-parents roleID. A parent that would close a loop,
// including roleID itself, is reported as ParentCyclic and nothing changes.
// A nil parent detaches the role.
func (e *Engine) UpdateRoleParent(ctx context.Context, roleID int64, parentID *int64) (ParentResult, error) {
	ctx, span := engineTracer.Start(ctx, "UpdateRoleParent",
		trace.WithAttributes(attribute.Int64("role_id", roleID)),
	)
	defer span.End()

	result := ParentUpdated
	var changed []permissions.Key
	err := e.store.InTx(ctx, func(tx *Store) error {
		if _, err := tx.mustGetRole(ctx, roleID); err != nil {
			return err
		}
		if parentID == nil {
			var err error
			changed, err = e.reparent(ctx, tx, roleID, nil)
			return err
		}
		if *parentID == roleID {
			result = ParentCyclic
			return nil
		}

		ancestry, err := tx.Ancestry(ctx, *parentID)
		if err != nil {
			return err
		}
		if len(ancestry) == 0 {
			return roleNotFound(*parentID)
		}
		ids := make([]int64, len(ancestry))
		for i, r := range ancestry {
			ids[i] = r.ID
		}
		if permissions.ContainsCycle(roleID, ids) {
			result = ParentCyclic
			return nil
		}
		changed, err = e.reparent(ctx, tx, roleID, parentID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update role parent")
		e.metrics.RecordRoleMutation("update_parent", "error")
		return result, err
	}

	span.SetAttributes(attribute.String("result", result.String()))
	e.metrics.RecordRoleMutation("update_parent", result.String())
	if result == ParentCyclic {
		e.logger.WithField("role_id", roleID).Info("Rejected cyclic parent assignment")
	} else if len(changed) > 0 {
		e.logger.WithFields(map[string]interface{}{
			"role_id":      roleID,
			"changed_keys": changed,
		}).Info("Role parent changed effective permissions")
	}
	return result, nil
}

// reparent sets the parent and reports the keys whose effective value moved
func (e *Engine) reparent(ctx context.Context, tx *Store, roleID int64, parentID *int64) ([]permissions.Key, error) {
	before, _, err := e.loadChain(ctx, tx, roleID)
	if err != nil {
		return nil, err
	}
	if err := tx.UpdateRoleParent(ctx, roleID, parentID); err != nil {
		return nil, err
	}
	after, _, err := e.loadChain(ctx, tx, roleID)
	if err != nil {
		return nil, err
	}
	return permissions.Diff(permissions.Resolve(before), permissions.Resolve(after)), nil
}

// DissolveParentPermissions freezes childID against the removal of its direct
// parent: every inherited key whose value depends on that parent is pinned
// explicitly. Roles without a parent are left as they are.
func (e *Engine) DissolveParentPermissions(ctx context.Context, childID int64) error {
	ctx, span := engineTracer.Start(ctx, "DissolveParentPermissions",
		trace.WithAttributes(attribute.Int64("role_id", childID)),
	)
	defer span.End()

	err := e.store.InTx(ctx, func(tx *Store) error {
		return e.dissolveParent(ctx, tx, childID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to dissolve parent permissions")
		e.metrics.RecordRoleMutation("dissolve_parent", "error")
		return err
	}
	e.metrics.RecordRoleMutation("dissolve_parent", "ok")
	return nil
}

func (e *Engine) dissolveParent(ctx context.Context, tx *Store, childID int64) error {
	chain, _, err := e.loadChain(ctx, tx, childID)
	if err != nil {
		return err
	}
	if len(chain) < 2 {
		return nil
	}

	with := permissions.Resolve(chain)
	skipped := make(permissions.Chain, 0, len(chain)-1)
	skipped = append(skipped, chain[0])
	skipped = append(skipped, chain[2:]...)
	without := permissions.Resolve(skipped)

	frozen := permissions.Freeze(chain[0], with, without)
	if frozen.Equal(chain[0]) {
		return nil
	}
	return tx.UpdateRolePermissions(ctx, childID, frozen)
}

// DeleteRole removes roleID in one transaction. Direct children are frozen
// first, then spliced onto the deleted role's parent, then users move to
// replacementID and the role is deleted. The default role and roles whose
// users would be orphaned are rejected without any change.
func (e *Engine) DeleteRole(ctx context.Context, roleID int64, replacementID *int64) (DeleteResult, error) {
	ctx, span := engineTracer.Start(ctx, "DeleteRole",
		trace.WithAttributes(attribute.Int64("role_id", roleID)),
	)
	defer span.End()

	err := e.store.InTx(ctx, func(tx *Store) error {
		role, err := tx.mustGetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsDefault {
			return ErrDefaultRoleDeletion
		}
		users, err := tx.CountUsersByRole(ctx, roleID)
		if err != nil {
			return err
		}
		if users > 0 && replacementID == nil {
			return ErrReplacementRequired
		}
		if replacementID != nil {
			if *replacementID == roleID {
				return ErrInvalidReplacement
			}
			if _, err := tx.mustGetRole(ctx, *replacementID); err != nil {
				return err
			}
		}

		children, err := tx.GetChildren(ctx, roleID)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := e.dissolveParent(ctx, tx, child.ID); err != nil {
				return err
			}
		}
		if err := tx.DissolveRoleParent(ctx, roleID); err != nil {
			return err
		}
		return tx.DeleteRole(ctx, roleID, replacementID)
	})

	switch {
	case err == nil:
		e.metrics.RecordRoleMutation("delete", RoleDeleted.String())
		e.logger.WithField("role_id", roleID).Info("Role deleted")
		return RoleDeleted, nil
	case errors.Is(err, ErrDefaultRoleDeletion):
		e.metrics.RecordRoleMutation("delete", DeleteRejectedDefault.String())
		return DeleteRejectedDefault, nil
	case errors.Is(err, ErrReplacementRequired):
		e.metrics.RecordRoleMutation("delete", DeleteNeedsReplacement.String())
		return DeleteNeedsReplacement, nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete role")
		e.metrics.RecordRoleMutation("delete", DeleteFailed.String())
		return DeleteFailed, err
	}
}

// CreateRole validates and stores a new role
func (e *Engine) CreateRole(ctx context.Context, name string, entries permissions.Entries, parentID *int64) (*Role, error) {
	if err := ValidateRoleName(name); err != nil {
		return nil, err
	}
	if err := ValidateEntries(entries); err != nil {
		return nil, err
	}
	role, err := e.store.CreateRole(ctx, name, entries, parentID)
	e.recordMutation("create", err)
	return role, err
}

// SetDefaultRole moves the default flag; a missing id keeps the current default
func (e *Engine) SetDefaultRole(ctx context.Context, roleID int64) error {
	err := e.store.SetDefaultRole(ctx, roleID)
	e.recordMutation("set_default", err)
	return err
}

// RenameRole changes a role's display name
func (e *Engine) RenameRole(ctx context.Context, roleID int64, name string) error {
	if err := ValidateRoleName(name); err != nil {
		return err
	}
	err := e.store.UpdateRoleName(ctx, roleID, name)
	if err != nil {
		e.logger.WithError(err).WithField("role_id", roleID).Warn("Failed to rename role")
	}
	e.recordMutation("rename", err)
	return err
}

// SetAdminRole grants or revokes administration access for a role
func (e *Engine) SetAdminRole(ctx context.Context, roleID int64, isAdmin bool) error {
	err := e.store.SetAdminRole(ctx, roleID, isAdmin)
	e.recordMutation("set_admin", err)
	return err
}

// UpdatePermissions replaces a role's explicit entries
func (e *Engine) UpdatePermissions(ctx context.Context, roleID int64, entries permissions.Entries) error {
	if err := ValidateEntries(entries); err != nil {
		return err
	}
	err := e.store.UpdateRolePermissions(ctx, roleID, entries)
	if err != nil {
		e.logger.WithError(err).WithField("role_id", roleID).Warn("Failed to update role permissions")
	} else {
		e.logger.WithFields(map[string]interface{}{
			"role_id":       roleID,
			"explicit_keys": entries.ExplicitKeys(),
		}).Debug("Role permissions replaced")
	}
	e.recordMutation("update_permissions", err)
	return err
}

func (e *Engine) recordMutation(op string, err error) {
	if err != nil {
		e.metrics.RecordRoleMutation(op, "error")
		if errors.Is(err, ErrStoreUnavailable) {
			e.metrics.RecordStoreError("roles", op)
		}
		return
	}
	e.metrics.RecordRoleMutation(op, "ok")
}

// Identify resolves username to its user and role. Unknown users are
// provisioned on the default role when self-registration is enabled.
func (e *Engine) Identify(ctx context.Context, username string) (*Identity, error) {
	user, err := e.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if !e.config.SelfRegistration {
			return nil, ErrSelfRegistrationDisabled
		}
		user, err = e.register(ctx, username)
		if err != nil {
			return nil, err
		}
	}

	role, err := e.store.GetRole(ctx, user.RoleID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, roleNotFound(user.RoleID)
	}
	return &Identity{User: user, Role: role}, nil
}

func (e *Engine) register(ctx context.Context, username string) (*User, error) {
	var user *User
	err := e.store.InTx(ctx, func(tx *Store) error {
		role, err := e.defaultRole(ctx, tx)
		if err != nil {
			return err
		}
		user, err = tx.CreateUser(ctx, username, role.ID, false)
		return err
	})
	if errors.Is(err, ErrDuplicate) {
		// created concurrently by another request
		user, err = e.store.GetUserByUsername(ctx, username)
		if err == nil && user == nil {
			err = &NotFoundError{Entity: "user", Name: username}
		}
	}
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"username": username,
		"role_id":  user.RoleID,
	}).Info("Registered new user on the default role")
	return user, nil
}

// defaultRole returns the default role, provisioning one when none exists
func (e *Engine) defaultRole(ctx context.Context, tx *Store) (*Role, error) {
	role, err := tx.GetDefaultRole(ctx)
	if err != nil || role != nil {
		return role, err
	}

	role, err = tx.CreateRole(ctx, DefaultRoleName, permissions.Entries{}, nil)
	if err != nil {
		return nil, err
	}
	if !role.IsDefault {
		if err := tx.SetDefaultRole(ctx, role.ID); err != nil {
			return nil, err
		}
		role.IsDefault = true
	}
	e.logger.WithField("role_id", role.ID).Info("Created default role")
	return role, nil
}

// EnsureAuxiliaryAdmin makes sure the configured auxiliary administrator exists
func (e *Engine) EnsureAuxiliaryAdmin(ctx context.Context) error {
	username := e.config.AuxiliaryUsername
	if username == "" {
		return nil
	}

	return e.store.InTx(ctx, func(tx *Store) error {
		user, err := tx.GetUserByUsername(ctx, username)
		if err != nil {
			return err
		}
		if user != nil {
			if user.IsAuxiliar {
				return nil
			}
			return tx.UpdateUserAuxiliar(ctx, user.ID, true)
		}

		role, err := e.defaultRole(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := tx.CreateUser(ctx, username, role.ID, true); err != nil {
			return err
		}
		e.logger.WithField("username", username).Info("Provisioned auxiliary administrator")
		return nil
	})
}

func (e *Engine) isReserved(username string) bool {
	return e.config.AuxiliaryUsername != "" && strings.EqualFold(username, e.config.AuxiliaryUsername)
}

// CreateUser adds a user. A nil roleID binds it to the default role.
func (e *Engine) CreateUser(ctx context.Context, username string, roleID *int64) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if e.isReserved(username) {
		return nil, ErrReservedUsername
	}

	var user *User
	err := e.store.InTx(ctx, func(tx *Store) error {
		id := roleID
		if id == nil {
			role, err := e.defaultRole(ctx, tx)
			if err != nil {
				return err
			}
			id = &role.ID
		}
		var err error
		user, err = tx.CreateUser(ctx, username, *id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// RenameUser changes a username. The auxiliary account cannot be renamed and
// no user may take its name.
func (e *Engine) RenameUser(ctx context.Context, userID int64, username string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if e.isReserved(username) {
		return ErrReservedUsername
	}
	if err := e.guardAuxiliar(ctx, userID); err != nil {
		return err
	}
	return e.store.UpdateUserUsername(ctx, userID, username)
}

// DeleteUser removes a user other than the auxiliary administrator
func (e *Engine) DeleteUser(ctx context.Context, userID int64) error {
	if err := e.guardAuxiliar(ctx, userID); err != nil {
		return err
	}
	return e.store.DeleteUser(ctx, userID)
}

// AssignRole binds a user to roleID
func (e *Engine) AssignRole(ctx context.Context, userID, roleID int64) error {
	return e.store.UpdateUserRole(ctx, userID, roleID)
}

func (e *Engine) guardAuxiliar(ctx context.Context, userID int64) error {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return userNotFound(userID)
	}
	if user.IsAuxiliar {
		return ErrReservedUsername
	}
	return nil
}
