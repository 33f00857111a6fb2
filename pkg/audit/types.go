package audit

import (
	"net/http"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Access events
	EventTypeAccessInhabitantRead EventType = "access.inhabitant_read"
	EventTypeAccessPermissionRead EventType = "access.permission_read"

	// Admin events
	EventTypeAdminRoleCreate  EventType = "admin.role_create"
	EventTypeAdminRoleUpdate  EventType = "admin.role_update"
	EventTypeAdminRoleDelete  EventType = "admin.role_delete"
	EventTypeAdminRoleDefault EventType = "admin.role_default"
	EventTypeAdminUserCreate  EventType = "admin.user_create"
	EventTypeAdminUserUpdate  EventType = "admin.user_update"
	EventTypeAdminUserDelete  EventType = "admin.user_delete"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeInhabitant ResourceType = "inhabitant"
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeUser       ResourceType = "user"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	Username string `json:"username,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	IPAddress  string `json:"ip_address,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

// StatusFromCode maps an HTTP status code to an event outcome
func StatusFromCode(code int) EventStatus {
	switch {
	case code < http.StatusBadRequest:
		return EventStatusSuccess
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return EventStatusDenied
	default:
		return EventStatusFailure
	}
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	Since      *time.Time
	Until      *time.Time
	Username   string
	EventTypes []EventType
	Status     EventStatus
	ResourceID string

	Limit  int
	Offset int
}

// maxSearchLimit caps a single page of search results
const maxSearchLimit = 500

func (f SearchFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return 100
	case f.Limit > maxSearchLimit:
		return maxSearchLimit
	default:
		return f.Limit
	}
}
