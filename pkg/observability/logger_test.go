package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/padron/pkg/contextkeys"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) LogEntry {
	t.Helper()
	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		assert.Zero(t, buf.Len())
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "info", entry.Level)
		assert.Equal(t, "info message", entry.Message)
		assert.NotEmpty(t, entry.Time)
	})

	t.Run("warn and error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warnf("warn %d", 1)
		assert.Equal(t, "warning", decodeEntry(t, &buf).Level)

		buf.Reset()
		logger.Errorf("error %s", "two")
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "error", entry.Level)
		assert.Equal(t, "error two", entry.Message)
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("key", "value").
		WithFields(map[string]interface{}{"role_id": 7, "op": "delete"}).
		WithError(errors.New("boom")).
		Debug("message")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "value", entry.Fields["key"])
	assert.Equal(t, float64(7), entry.Fields["role_id"])
	assert.Equal(t, "delete", entry.Fields["op"])
	assert.Equal(t, "boom", entry.Fields["error"])

	buf.Reset()
	logger.Info("plain")
	assert.Empty(t, decodeEntry(t, &buf).Fields, "derived fields must not leak to the parent")
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	assert.Same(t, logger, logger.WithError(nil))
}

func TestLogger_SetLevelPropagates(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger(ErrorLevel, &buf)
	child := root.WithField("component", "engine")

	child.Info("hidden")
	assert.Zero(t, buf.Len())

	root.SetLevel(InfoLevel)
	assert.Equal(t, InfoLevel, child.Level())
	child.Info("shown")
	assert.Equal(t, "shown", decodeEntry(t, &buf).Message)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{in: "debug", want: DebugLevel},
		{in: "INFO", want: InfoLevel},
		{in: "", want: InfoLevel},
		{in: " warning ", want: WarnLevel},
		{in: "error", want: ErrorLevel},
		{in: "verbose", want: InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "WARN", WarnLevel.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithUsername(ctx, "ana")

	FromContext(ctx).Info("scoped")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "req-1", entry.Fields["request_id"])
	assert.Equal(t, "ana", entry.Fields["username"])

	assert.NotNil(t, GetLogger(context.Background()))
}

func TestOpenLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "padron.log")

	f, err := OpenLogFile(path)
	require.NoError(t, err)
	NewLogger(InfoLevel, f).Info("first")
	require.NoError(t, f.Close())

	f, err = OpenLogFile(path)
	require.NoError(t, err)
	NewLogger(InfoLevel, f).Info("second")
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)

	_, err = OpenLogFile(filepath.Join(t.TempDir(), "missing", "x.log"))
	assert.Error(t, err)
}
