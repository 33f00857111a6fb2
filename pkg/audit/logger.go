package audit

import (
	"context"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error
}

// Searcher finds previously recorded events, newest first
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}
