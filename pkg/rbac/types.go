package rbac

import (
	"time"

	"github.com/platinummonkey/padron/pkg/permissions"
)

// MaxChainDepth bounds how many ancestors are loaded for one role. A chain that
// reaches it is treated as corrupt (it can only happen through a cycle).
const MaxChainDepth = 64

// DefaultRoleName is used when a default role has to be provisioned on demand.
const DefaultRoleName = "default"

// Role is a named permission profile, optionally inheriting from a base role
type Role struct {
	ID        int64               `json:"id"`
	Name      string              `json:"name"`
	IsDefault bool                `json:"is_default"`
	IsAdmin   bool                `json:"is_admin"`
	ParentID  *int64              `json:"parent_id,omitempty"`
	Entries   permissions.Entries `json:"entries"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// HasParent reports whether the role defers to a base role
func (r *Role) HasParent() bool {
	return r.ParentID != nil
}

// RoleSummary is the list view of a role
type RoleSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is a staff account bound to exactly one role
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	RoleID     int64     `json:"role_id"`
	IsAuxiliar bool      `json:"is_auxiliar"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Identity is a resolved caller: the user record and its role
type Identity struct {
	User *User `json:"user"`
	Role *Role `json:"role"`
}

// IsAdmin reports whether the caller may use administration functions.
// The auxiliary administrator is always an admin regardless of its role.
func (i *Identity) IsAdmin() bool {
	if i == nil || i.User == nil {
		return false
	}
	if i.User.IsAuxiliar {
		return true
	}
	return i.Role != nil && i.Role.IsAdmin
}

// ParentResult is the outcome of a re-parent request
type ParentResult int

const (
	ParentUpdated ParentResult = iota
	ParentCyclic
)

func (r ParentResult) String() string {
	switch r {
	case ParentUpdated:
		return "updated"
	case ParentCyclic:
		return "cyclic"
	default:
		return "unknown"
	}
}

// DeleteResult is the outcome of a role deletion request
type DeleteResult int

const (
	DeleteFailed DeleteResult = iota
	RoleDeleted
	DeleteRejectedDefault
	DeleteNeedsReplacement
)

func (r DeleteResult) String() string {
	switch r {
	case DeleteFailed:
		return "failed"
	case RoleDeleted:
		return "deleted"
	case DeleteRejectedDefault:
		return "rejected_default"
	case DeleteNeedsReplacement:
		return "needs_replacement"
	default:
		return "unknown"
	}
}
