package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/padron/pkg/permissions"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store handles role and user persistence. It holds no inheritance logic.
type Store struct {
	db DBTX
	// conn is nil when the store is bound to a transaction
	conn *sql.DB
}

// NewStore creates a new store over db
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, conn: db}
}

// InTx runs fn with a store bound to a single transaction. fn's error rolls
// the transaction back. Nested calls reuse the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.conn == nil {
		return fn(s)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}

	if err := fn(&Store{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

const roleColumns = `id, name, is_default, is_admin, parent_id, entries, created_at, updated_at`

// GetRole retrieves a role by ID, nil when it does not exist
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get role", err)
	}
	return role, nil
}

// mustGetRole is GetRole with a NotFoundError for missing ids
func (s *Store) mustGetRole(ctx context.Context, id int64) (*Role, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, roleNotFound(id)
	}
	return role, nil
}

// GetAllRoles lists every role sorted by name
func (s *Store) GetAllRoles(ctx context.Context) ([]RoleSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM roles ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, classify("list roles", err)
	}
	defer rows.Close()

	roles := make([]RoleSummary, 0)
	for rows.Next() {
		var r RoleSummary
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, classify("scan role", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list roles", err)
	}
	return roles, nil
}

// GetDefaultRole returns the default role, nil when no role exists
func (s *Store) GetDefaultRole(ctx context.Context) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE is_default = TRUE`)
	role, err := scanRole(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get default role", err)
	}
	return role, nil
}

// SetDefaultRole moves the default flag to id. A missing id leaves the
// current default untouched and returns a NotFoundError.
func (s *Store) SetDefaultRole(ctx context.Context, id int64) error {
	return s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.mustGetRole(ctx, id); err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.db.ExecContext(ctx,
			`UPDATE roles SET is_default = FALSE, updated_at = $1 WHERE is_default = TRUE AND id <> $2`,
			now, id,
		); err != nil {
			return classify("clear default role", err)
		}
		if _, err := tx.db.ExecContext(ctx,
			`UPDATE roles SET is_default = TRUE, updated_at = $1 WHERE id = $2`,
			now, id,
		); err != nil {
			return classify("set default role", err)
		}
		return nil
	})
}

// CountRoles returns the number of stored roles
func (s *Store) CountRoles(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM roles`).Scan(&count); err != nil {
		return 0, classify("count roles", err)
	}
	return count, nil
}

// CreateRole inserts a role. The first role ever created becomes the default.
func (s *Store) CreateRole(ctx context.Context, name string, entries permissions.Entries, parentID *int64) (*Role, error) {
	entriesJSON, err := json.Marshal(entries.Clone())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}

	var role *Role
	err = s.InTx(ctx, func(tx *Store) error {
		if parentID != nil {
			if _, err := tx.mustGetRole(ctx, *parentID); err != nil {
				return err
			}
		}

		count, err := tx.CountRoles(ctx)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		role = &Role{
			Name:      name,
			IsDefault: count == 0,
			ParentID:  parentID,
			Entries:   entries.Clone(),
			CreatedAt: now,
			UpdatedAt: now,
		}

		err = tx.db.QueryRowContext(ctx, `
			INSERT INTO roles (name, is_default, is_admin, parent_id, entries, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`,
			role.Name,
			role.IsDefault,
			role.IsAdmin,
			role.ParentID,
			string(entriesJSON),
			now,
			now,
		).Scan(&role.ID)
		if err != nil {
			return classify("create role", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRoleName renames a role
func (s *Store) UpdateRoleName(ctx context.Context, id int64, name string) error {
	return s.execRole(ctx, "update role name", id,
		`UPDATE roles SET name = $1, updated_at = $2 WHERE id = $3`,
		name, time.Now().UTC(), id,
	)
}

// UpdateRolePermissions replaces a role's stored entries
func (s *Store) UpdateRolePermissions(ctx context.Context, id int64, entries permissions.Entries) error {
	entriesJSON, err := json.Marshal(entries.Clone())
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return s.execRole(ctx, "update role permissions", id,
		`UPDATE roles SET entries = $1, updated_at = $2 WHERE id = $3`,
		string(entriesJSON), time.Now().UTC(), id,
	)
}

// SetAdminRole grants or revokes access to administration functions
func (s *Store) SetAdminRole(ctx context.Context, id int64, isAdmin bool) error {
	return s.execRole(ctx, "set admin role", id,
		`UPDATE roles SET is_admin = $1, updated_at = $2 WHERE id = $3`,
		isAdmin, time.Now().UTC(), id,
	)
}

// UpdateRoleParent writes the parent pointer without any cycle check
func (s *Store) UpdateRoleParent(ctx context.Context, id int64, parentID *int64) error {
	return s.execRole(ctx, "update role parent", id,
		`UPDATE roles SET parent_id = $1, updated_at = $2 WHERE id = $3`,
		parentID, time.Now().UTC(), id,
	)
}

// DissolveRoleParent splices id out of its chain: every direct child of id
// is re-pointed at id's own parent.
func (s *Store) DissolveRoleParent(ctx context.Context, id int64) error {
	return s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.mustGetRole(ctx, id); err != nil {
			return err
		}
		_, err := tx.db.ExecContext(ctx, `
			UPDATE roles
			SET parent_id = (SELECT p.parent_id FROM roles p WHERE p.id = $1), updated_at = $2
			WHERE parent_id = $1
		`, id, time.Now().UTC())
		if err != nil {
			return classify("dissolve role parent", err)
		}
		return nil
	})
}

// GetChildren lists the roles whose parent is id
func (s *Store) GetChildren(ctx context.Context, id int64) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE parent_id = $1 ORDER BY id ASC`, id)
	if err != nil {
		return nil, classify("get role children", err)
	}
	defer rows.Close()

	children := make([]*Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, classify("scan role", err)
		}
		children = append(children, role)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get role children", err)
	}
	return children, nil
}

// Ancestry loads the role id followed by its ancestors, nearest first, in a
// single query. The walk stops at a missing parent or after MaxChainDepth
// steps. An unknown id yields an empty chain. Timestamps are not loaded.
func (s *Store) Ancestry(ctx context.Context, id int64) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE chain (id, name, is_default, is_admin, parent_id, entries, depth) AS (
			SELECT id, name, is_default, is_admin, parent_id, entries, 0
			FROM roles WHERE id = $1
			UNION ALL
			SELECT r.id, r.name, r.is_default, r.is_admin, r.parent_id, r.entries, c.depth + 1
			FROM roles r
			JOIN chain c ON r.id = c.parent_id
			WHERE c.depth < $2
		)
		SELECT id, name, is_default, is_admin, parent_id, entries FROM chain ORDER BY depth ASC
	`, id, MaxChainDepth)
	if err != nil {
		return nil, classify("load role chain", err)
	}
	defer rows.Close()

	chain := make([]*Role, 0, 4)
	for rows.Next() {
		var role Role
		var parentID sql.NullInt64
		var entriesJSON string
		if err := rows.Scan(&role.ID, &role.Name, &role.IsDefault, &role.IsAdmin, &parentID, &entriesJSON); err != nil {
			return nil, classify("scan role chain", err)
		}
		if err := fillRole(&role, parentID, entriesJSON); err != nil {
			return nil, err
		}
		chain = append(chain, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load role chain", err)
	}
	return chain, nil
}

// DeleteRole removes a role after moving its users to replacementID.
// The default role can never be deleted.
func (s *Store) DeleteRole(ctx context.Context, id int64, replacementID *int64) error {
	return s.InTx(ctx, func(tx *Store) error {
		role, err := tx.mustGetRole(ctx, id)
		if err != nil {
			return err
		}
		if role.IsDefault {
			return ErrDefaultRoleDeletion
		}

		users, err := tx.CountUsersByRole(ctx, id)
		if err != nil {
			return err
		}
		if replacementID != nil {
			if *replacementID == id {
				return ErrInvalidReplacement
			}
			if _, err := tx.mustGetRole(ctx, *replacementID); err != nil {
				return err
			}
		}
		if users > 0 {
			if replacementID == nil {
				return ErrReplacementRequired
			}
			if _, err := tx.db.ExecContext(ctx,
				`UPDATE users SET role_id = $1, updated_at = $2 WHERE role_id = $3`,
				*replacementID, time.Now().UTC(), id,
			); err != nil {
				return classify("reassign users", err)
			}
		}

		if _, err := tx.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
			return classify("delete role", err)
		}
		return nil
	})
}

// execRole runs a single-row role update and maps zero affected rows to NotFound
func (s *Store) execRole(ctx context.Context, op string, id int64, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return roleNotFound(id)
	}
	return nil
}

// scanRole scans a role from a row
func scanRole(scanner interface {
	Scan(dest ...interface{}) error
}) (*Role, error) {
	var role Role
	var parentID sql.NullInt64
	var entriesJSON string

	err := scanner.Scan(
		&role.ID,
		&role.Name,
		&role.IsDefault,
		&role.IsAdmin,
		&parentID,
		&entriesJSON,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := fillRole(&role, parentID, entriesJSON); err != nil {
		return nil, err
	}
	return &role, nil
}

func fillRole(role *Role, parentID sql.NullInt64, entriesJSON string) error {
	if parentID.Valid {
		id := parentID.Int64
		role.ParentID = &id
	}
	entries, err := permissions.ParseEntries(entriesJSON)
	if err != nil {
		return fmt.Errorf("role %d: %w", role.ID, err)
	}
	role.Entries = entries
	return nil
}

const userColumns = `id, username, role_id, is_auxiliar, created_at, updated_at`

// GetUser retrieves a user by ID, nil when it does not exist
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get user", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username, nil when it does not exist
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get user by username", err)
	}
	return user, nil
}

// GetAllUsers lists every user sorted by username
func (s *Store) GetAllUsers(ctx context.Context) ([]*User, error) {
	return s.queryUsers(ctx, "list users", `SELECT `+userColumns+` FROM users ORDER BY username ASC`)
}

// GetUsersByRole lists the users bound to roleID
func (s *Store) GetUsersByRole(ctx context.Context, roleID int64) ([]*User, error) {
	return s.queryUsers(ctx, "list users by role",
		`SELECT `+userColumns+` FROM users WHERE role_id = $1 ORDER BY username ASC`, roleID)
}

// CountUsersByRole returns the number of users bound to roleID
func (s *Store) CountUsersByRole(ctx context.Context, roleID int64) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE role_id = $1`, roleID).Scan(&count); err != nil {
		return 0, classify("count users by role", err)
	}
	return count, nil
}

// CreateUser inserts a user bound to roleID
func (s *Store) CreateUser(ctx context.Context, username string, roleID int64, isAuxiliar bool) (*User, error) {
	var user *User
	err := s.InTx(ctx, func(tx *Store) error {
		if err := tx.checkUsernameFree(ctx, username, 0); err != nil {
			return err
		}
		if _, err := tx.mustGetRole(ctx, roleID); err != nil {
			return err
		}

		now := time.Now().UTC()
		user = &User{
			Username:   username,
			RoleID:     roleID,
			IsAuxiliar: isAuxiliar,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err := tx.db.QueryRowContext(ctx, `
			INSERT INTO users (username, role_id, is_auxiliar, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, username, roleID, isAuxiliar, now, now).Scan(&user.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return &DuplicateError{Username: username}
			}
			return classify("create user", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes a user
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.execUser(ctx, "delete user", id, `DELETE FROM users WHERE id = $1`, id)
}

// UpdateUserUsername renames a user
func (s *Store) UpdateUserUsername(ctx context.Context, id int64, username string) error {
	return s.InTx(ctx, func(tx *Store) error {
		if err := tx.checkUsernameFree(ctx, username, id); err != nil {
			return err
		}
		err := tx.execUser(ctx, "update username", id,
			`UPDATE users SET username = $1, updated_at = $2 WHERE id = $3`,
			username, time.Now().UTC(), id,
		)
		if err != nil && isUniqueViolation(err) {
			return &DuplicateError{Username: username}
		}
		return err
	})
}

// UpdateUserRole binds a user to another role
func (s *Store) UpdateUserRole(ctx context.Context, id, roleID int64) error {
	return s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.mustGetRole(ctx, roleID); err != nil {
			return err
		}
		return tx.execUser(ctx, "update user role", id,
			`UPDATE users SET role_id = $1, updated_at = $2 WHERE id = $3`,
			roleID, time.Now().UTC(), id,
		)
	})
}

// UpdateUserAuxiliar flags or unflags the auxiliary administrator account
func (s *Store) UpdateUserAuxiliar(ctx context.Context, id int64, isAuxiliar bool) error {
	return s.execUser(ctx, "update user auxiliar flag", id,
		`UPDATE users SET is_auxiliar = $1, updated_at = $2 WHERE id = $3`,
		isAuxiliar, time.Now().UTC(), id,
	)
}

// checkUsernameFree returns a DuplicateError when username belongs to a user
// other than exceptID
func (s *Store) checkUsernameFree(ctx context.Context, username string, exceptID int64) error {
	existing, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != exceptID {
		return &DuplicateError{Username: username, ExistingID: existing.ID}
	}
	return nil
}

func (s *Store) queryUsers(ctx context.Context, op, query string, args ...interface{}) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, classify("scan user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return users, nil
}

func (s *Store) execUser(ctx context.Context, op string, id int64, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return userNotFound(id)
	}
	return nil
}

func scanUser(scanner interface {
	Scan(dest ...interface{}) error
}) (*User, error) {
	var user User
	err := scanner.Scan(
		&user.ID,
		&user.Username,
		&user.RoleID,
		&user.IsAuxiliar,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
