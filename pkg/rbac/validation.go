package rbac

import (
	"regexp"
	"strings"

	"github.com/platinummonkey/padron/pkg/permissions"
)

var (
	usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)
	roleNamePattern = regexp.MustCompile(`^[\p{L}\p{N}_ ]+$`)
)

// ValidateUsername accepts non-empty alphanumeric usernames
func ValidateUsername(username string) error {
	if username == "" {
		return &ValidationError{Field: "username", Message: "must not be empty"}
	}
	if !usernamePattern.MatchString(username) {
		return &ValidationError{Field: "username", Message: "must be alphanumeric"}
	}
	return nil
}

// ValidateRoleName accepts non-empty alphanumeric names, spaces allowed
func ValidateRoleName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !roleNamePattern.MatchString(name) {
		return &ValidationError{Field: "name", Message: "must be alphanumeric"}
	}
	return nil
}

// ValidateEntries rejects permission keys outside the catalog
func ValidateEntries(entries permissions.Entries) error {
	if err := entries.Validate(); err != nil {
		return &ValidationError{Field: "permissions", Message: err.Error()}
	}
	return nil
}
