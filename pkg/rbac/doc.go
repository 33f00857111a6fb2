// Package rbac provides the role store and permission resolution engine for the
// padron municipal records portal.
//
// # Overview
//
// Staff users are bound to exactly one role. A role holds a partial map of
// permission entries over the field catalog (see package permissions) and may
// defer to a parent role for every key it does not set. Roles form a forest:
// each role has at most one parent and the store never holds a cycle.
//
// # Architecture
//
// The package is layered:
//
//  1. Store: persistence of roles and users over postgres or sqlite3. It has
//     no inheritance logic and exposes InTx for multi-step mutations.
//  2. Engine: resolution and orchestration. It loads a role's ancestry in one
//     query and resolves it in memory, and runs re-parenting, freezing and the
//     delete cascade inside a single transaction.
//  3. Handlers and IdentityMiddleware: the HTTP surface under /api and /admin.
//  4. IntegrityChecker: a cron job that audits the hierarchy.
//
// # Resolution
//
// For every catalog key the nearest explicit entry along the chain wins. A
// key left unset by every role in the chain is denied:
//
//	eff, err := engine.EffectivePermissions(ctx, roleID)
//	if eff[permissions.Key("email")] {
//		// may see the email column
//	}
//
// # Mutations
//
// Re-parenting rejects self-reference and any parent whose chain already
// contains the role:
//
//	result, err := engine.UpdateRoleParent(ctx, roleID, &parentID)
//	if result == rbac.ParentCyclic {
//		// nothing was written
//	}
//
// Deleting a role first freezes each direct child against the loss of its
// parent, then splices the children onto the deleted role's parent, then moves
// users to the replacement role and deletes the row:
//
//	result, err := engine.DeleteRole(ctx, roleID, &replacementID)
//
// The default role cannot be deleted. The first role ever created becomes the
// default, and Identify provisions one named "default" when none exists.
//
// # Errors
//
// Store and engine errors match the sentinels ErrNotFound, ErrDuplicate,
// ErrConstraint, ErrStoreUnavailable and ErrInvalid with errors.Is. WriteError
// maps them onto HTTP statuses.
package rbac
