package audit

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/padron/pkg/observability"
)

// memoryLogger collects events for assertions
type memoryLogger struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (m *memoryLogger) Log(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryLogger) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

var errSinkDown = errors.New("sink down")

func discardLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestDBLogger(t *testing.T) *DBLogger {
	t.Helper()
	l, err := NewDBLogger(context.Background(), openTestDB(t), DialectSQLite)
	require.NoError(t, err)
	return l
}
