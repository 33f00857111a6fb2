package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Dialects understood by DBLogger
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

const eventsTable = "audit_events"

var eventColumns = []string{
	"timestamp", "event_type", "status",
	"username", "resource_type", "resource_id",
	"ip_address", "request_id", "method", "path", "status_code",
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		username VARCHAR(255) NOT NULL DEFAULT '',
		resource_type VARCHAR(50) NOT NULL DEFAULT '',
		resource_id VARCHAR(255) NOT NULL DEFAULT '',
		ip_address VARCHAR(45) NOT NULL DEFAULT '',
		request_id VARCHAR(100) NOT NULL DEFAULT '',
		method VARCHAR(10) NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		status_code INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_username ON audit_events(username);
	CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
`

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		resource_type TEXT NOT NULL DEFAULT '',
		resource_id TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		status_code INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_username ON audit_events(username);
	CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
`

// DBLogger records audit events in the role database
type DBLogger struct {
	db      *sql.DB
	dialect string
	builder sq.StatementBuilderType
}

// NewDBLogger creates a database-backed audit logger and ensures its table
// exists
func NewDBLogger(ctx context.Context, db *sql.DB, dialect string) (*DBLogger, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}

	var (
		schema      string
		placeholder sq.PlaceholderFormat
	)
	switch dialect {
	case DialectPostgres:
		schema, placeholder = postgresSchema, sq.Dollar
	case DialectSQLite:
		schema, placeholder = sqliteSchema, sq.Question
	default:
		return nil, fmt.Errorf("unsupported audit dialect: %s", dialect)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure %s table: %w", eventsTable, err)
	}

	return &DBLogger{
		db:      db,
		dialect: dialect,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}, nil
}

// Log inserts event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	insert := l.builder.Insert(eventsTable).
		Columns(eventColumns...).
		Values(
			event.Timestamp.UTC(), string(event.EventType), string(event.Status),
			event.Username, string(event.ResourceType), event.ResourceID,
			event.IPAddress, event.RequestID, event.Method, event.Path, event.StatusCode,
		)

	if l.dialect == DialectPostgres {
		if err := insert.Suffix("RETURNING id").RunWith(l.db).QueryRowContext(ctx).Scan(&event.ID); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
		return nil
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build audit insert: %w", err)
	}
	result, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	if event.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read audit event id: %w", err)
	}
	return nil
}

// Search returns the events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := l.builder.Select(append([]string{"id"}, eventColumns...)...).
		From(eventsTable).
		OrderBy("timestamp DESC", "id DESC").
		Limit(uint64(filter.limit()))

	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}
	if filter.Since != nil {
		query = query.Where(sq.GtOrEq{"timestamp": filter.Since.UTC()})
	}
	if filter.Until != nil {
		query = query.Where(sq.Lt{"timestamp": filter.Until.UTC()})
	}
	if filter.Username != "" {
		query = query.Where(sq.Eq{"username": filter.Username})
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		query = query.Where(sq.Eq{"event_type": types})
	}
	if filter.Status != "" {
		query = query.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.ResourceID != "" {
		query = query.Where(sq.Eq{"resource_id": filter.ResourceID})
	}

	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build audit search: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var event Event
		var eventType, status, resourceType string
		if err := rows.Scan(
			&event.ID, &event.Timestamp, &eventType, &status,
			&event.Username, &resourceType, &event.ResourceID,
			&event.IPAddress, &event.RequestID, &event.Method, &event.Path, &event.StatusCode,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.EventType = EventType(eventType)
		event.Status = EventStatus(status)
		event.ResourceType = ResourceType(resourceType)
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}

	return events, nil
}
