package rbac

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound matches every NotFoundError
	ErrNotFound = errors.New("not found")
	// ErrDuplicate matches every DuplicateError
	ErrDuplicate = errors.New("duplicate")
	// ErrConstraint matches every ConstraintError
	ErrConstraint = errors.New("constraint violation")
	// ErrStoreUnavailable matches every StoreError
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalid matches every ValidationError
	ErrInvalid = errors.New("invalid input")
	// ErrSelfRegistrationDisabled is returned by Identify for unknown users
	ErrSelfRegistrationDisabled = errors.New("self-registration is disabled")
	// ErrReservedUsername protects the auxiliary administrator account
	ErrReservedUsername = errors.New("username is reserved")

	// ErrDefaultRoleDeletion rejects deleting the current default role
	ErrDefaultRoleDeletion = errors.New("the default role cannot be deleted")
	// ErrReplacementRequired rejects deleting a role that still has users
	ErrReplacementRequired = errors.New("role has users and no replacement role was given")
	// ErrInvalidReplacement rejects replacing a role with itself
	ErrInvalidReplacement = errors.New("replacement role must differ from the deleted role")
)

// NotFoundError reports a role or user id that does not exist
type NotFoundError struct {
	Entity string
	ID     int64
	Name   string
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s not found: %s", e.Entity, e.Name)
	}
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func roleNotFound(id int64) error {
	return &NotFoundError{Entity: "role", ID: id}
}

func userNotFound(id int64) error {
	return &NotFoundError{Entity: "user", ID: id}
}

// DuplicateError reports a username collision
type DuplicateError struct {
	Username   string
	ExistingID int64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("username already exists: %s", e.Username)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// ValidationError reports a rejected name, username or permission map
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// ConstraintError reports a uniqueness or foreign-key violation
type ConstraintError struct {
	Op  string
	Err error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: constraint violation: %v", e.Op, e.Err)
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

func (e *ConstraintError) Is(target error) bool {
	return target == ErrConstraint
}

// StoreError wraps any other data access failure
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// classify turns a driver error into the store taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrConstraint) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &StoreError{Op: op, Err: err}
	}
	if isConstraintViolation(err) {
		return &ConstraintError{Op: op, Err: err}
	}
	return &StoreError{Op: op, Err: err}
}

func isConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 23xxx is the integrity constraint violation class
		return pqErr.Code.Class() == "23"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
