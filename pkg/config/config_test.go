package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/padron/pkg/observability"
	"github.com/platinummonkey/padron/pkg/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvTyped tests the typed getEnv helpers
func TestGetEnvTyped(t *testing.T) {
	t.Setenv("TEST_BOOL_TRUE", "TRUE")
	t.Setenv("TEST_BOOL_ONE", "1")
	t.Setenv("TEST_BOOL_NO", "no")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_DURATION_BAD", "soon")
	t.Setenv("TEST_LIST", " https://a.example , ,https://b.example")

	if !getEnvBool("TEST_BOOL_TRUE", false) || !getEnvBool("TEST_BOOL_ONE", false) {
		t.Errorf("getEnvBool() should accept TRUE and 1")
	}
	if getEnvBool("TEST_BOOL_NO", true) {
		t.Errorf("getEnvBool() = true for 'no'")
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("getEnvInt() = %v, want default 7", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := getEnvDuration("TEST_DURATION", 0); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("TEST_DURATION_BAD", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() = %v, want default 1s", got)
	}
	if got := getEnvList("TEST_LIST", nil); strings.Join(got, "|") != "https://a.example|https://b.example" {
		t.Errorf("getEnvList() = %v", got)
	}
	if got := getEnvList("TEST_LIST_UNSET", []string{"*"}); len(got) != 1 || got[0] != "*" {
		t.Errorf("getEnvList() = %v, want default", got)
	}
}

func writeProfile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "padron.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const sampleProfile = `
server:
  port: "8000"
  health_port: "8001"
  read_timeout: 5s
  cors_origins: ["https://padron.example"]
  trusted_proxies: ["10.0.0.0/8"]
database:
  driver: sqlite3
  dsn: "file:roles.db?_foreign_keys=on"
registry:
  driver: postgres
  dsn: postgres://registry/padron
  schema: PADRON
  max_conns: 4
auth:
  session_secret: "` + testSecret + `"
  session_ttl: 2h
  domain: ayto.example
  users:
    ana: "$2a$04$hash"
  auxiliary_username: admin
  auxiliary_password_hash: "$2a$04$adminhash"
observability:
  log_level: debug
audit:
  file_path: /var/log/padron/audit.log
  file_max_files: 3
maintenance:
  integrity_schedule: "0 3 * * *"
`

func TestLoadConfig_Profile(t *testing.T) {
	path := writeProfile(t, t.TempDir(), sampleProfile)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "8001", cfg.Server.HealthPort)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "unset values keep defaults")
	assert.Equal(t, []string{"https://padron.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)

	assert.Equal(t, storage.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, storage.DriverPostgres, cfg.Registry.Driver)
	assert.Equal(t, "postgres://registry/padron", cfg.Registry.DSN)
	assert.Equal(t, "PADRON", cfg.Registry.Schema)
	assert.Equal(t, 4, cfg.Registry.MaxConns)
	assert.Equal(t, 256, cfg.Registry.DescriptionCacheSize)

	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionTTL)
	assert.True(t, cfg.Auth.SelfRegistration)
	assert.Equal(t, map[string]string{"ana": "$2a$04$hash", "admin": "$2a$04$adminhash"}, cfg.Auth.Credentials())

	assert.Equal(t, observability.DebugLevel, cfg.Observability.Level())
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "/var/log/padron/audit.log", cfg.Audit.FilePath)
	assert.Equal(t, 3, cfg.Audit.FileMaxFiles)
	assert.Equal(t, "0 3 * * *", cfg.Maintenance.IntegritySchedule)
}

func TestLoadConfig_EnvOverridesProfile(t *testing.T) {
	path := writeProfile(t, t.TempDir(), sampleProfile)

	t.Setenv("PADRON_PORT", "8100")
	t.Setenv("PADRON_REGISTRY_DRIVER", "oracle")
	t.Setenv("PADRON_REGISTRY_DSN", "oracle://padron@registry:1521/PADRON")
	t.Setenv("PADRON_SELF_REGISTRATION", "false")
	t.Setenv("PADRON_LOG_LEVEL", "warn")
	t.Setenv("PADRON_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("PADRON_OTEL_ENABLED", "true")
	t.Setenv("PADRON_OTEL_SAMPLE_RATIO", "0.1")
	t.Setenv("PADRON_AUDIT_ENABLED", "false")
	t.Setenv("PADRON_AUDIT_FILE", "")
	t.Setenv("PADRON_TRUSTED_PROXIES", "10.0.0.1,192.168.0.0/16")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "8100", cfg.Server.Port)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.Server.TrustedProxies)
	assert.Equal(t, storage.DriverOracle, cfg.Registry.Driver)
	assert.Equal(t, "oracle://padron@registry:1521/PADRON", cfg.Registry.DSN)
	assert.False(t, cfg.Auth.SelfRegistration)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.Level())
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, "/var/log/padron/audit.log", cfg.Audit.FilePath, "empty env keeps the profile value")

	otel := cfg.Observability.OTel()
	assert.True(t, otel.Enabled)
	assert.Equal(t, "localhost:4317", otel.Endpoint)
	assert.Equal(t, 0.1, otel.SampleRatio)
}

func TestLoadConfig_EnvOnly(t *testing.T) {
	t.Setenv("PADRON_DB_DSN", "postgres://roles/padron")
	t.Setenv("PADRON_REGISTRY_DSN", "oracle://registry/PADRON")
	t.Setenv("PADRON_SESSION_SECRET", testSecret)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, storage.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, storage.DriverOracle, cfg.Registry.Driver)
	assert.Equal(t, "REPOS", cfg.Registry.Schema)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing profile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read profile")
	})

	t.Run("malformed profile", func(t *testing.T) {
		path := writeProfile(t, t.TempDir(), "server: [unterminated")
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse profile")
	})

	t.Run("invalid result", func(t *testing.T) {
		_, err := LoadConfig("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
	})
}

func TestProfilePath(t *testing.T) {
	t.Setenv(ProfileEnv, "/etc/padron/env.yaml")
	assert.Equal(t, "/etc/padron/flag.yaml", ProfilePath("/etc/padron/flag.yaml"))
	assert.Equal(t, "/etc/padron/env.yaml", ProfilePath(""))
}

func validConfig() *Config {
	cfg := Default()
	cfg.Database.DSN = "postgres://roles/padron"
	cfg.Registry.DSN = "oracle://registry/PADRON"
	cfg.Auth.SessionSecret = testSecret
	return cfg
}

// TestConfigValidate tests configuration validation
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port is required"},
		{name: "same ports", mutate: func(c *Config) { c.Server.HealthPort = c.Server.Port }, wantErr: "must be different"},
		{name: "oracle role store", mutate: func(c *Config) { c.Database.Driver = storage.DriverOracle }, wantErr: "invalid database driver"},
		{name: "unknown registry driver", mutate: func(c *Config) { c.Registry.Driver = "mysql" }, wantErr: "invalid registry driver"},
		{name: "missing registry dsn", mutate: func(c *Config) { c.Registry.DSN = "" }, wantErr: "registry DSN is required"},
		{name: "short secret", mutate: func(c *Config) { c.Auth.SessionSecret = "short" }, wantErr: "session secret"},
		{name: "zero ttl", mutate: func(c *Config) { c.Auth.SessionTTL = 0 }, wantErr: "session TTL"},
		{name: "orphan auxiliary hash", mutate: func(c *Config) { c.Auth.AuxiliaryPasswordHash = "$2a$" }, wantErr: "auxiliary username"},
		{name: "bad log level", mutate: func(c *Config) { c.Observability.LogLevel = "loud" }, wantErr: "invalid log level"},
		{name: "otel without endpoint", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, wantErr: "OpenTelemetry endpoint"},
		{name: "bad schedule", mutate: func(c *Config) { c.Maintenance.IntegritySchedule = "every hour" }, wantErr: "invalid integrity schedule"},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.Server.TrustedProxies = []string{"proxy.local"} }, wantErr: "invalid trusted proxy"},
		{name: "negative audit rotation", mutate: func(c *Config) { c.Audit.FileMaxFiles = -1 }, wantErr: "audit file rotation"},
		{name: "disabled schedule", mutate: func(c *Config) { c.Maintenance.IntegritySchedule = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)

	for _, want := range []string{"database DSN", "registry DSN", "session secret"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestWatchProfile(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, sampleProfile)

	logger := observability.NewLogger(observability.InfoLevel, io.Discard)
	reloaded := make(chan *Config, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchProfile(ctx, path, logger, func(cfg *Config) {
			ApplyLogLevel(logger)(cfg)
			reloaded <- cfg
		})
	}()

	updated := strings.Replace(sampleProfile, "log_level: debug", "log_level: error", 1)
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var got *Config
	for got == nil {
		select {
		case got = <-reloaded:
		case <-ticker.C:
			// the watcher may not be registered yet, so keep writing
			require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
		case <-deadline:
			t.Fatal("profile change was not observed")
		}
	}

	assert.Equal(t, observability.ErrorLevel, got.Observability.Level())
	assert.Equal(t, observability.ErrorLevel, logger.Level())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchProfile_IgnoresInvalidAndOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, sampleProfile)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	calls := 0
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o600)
		_ = os.WriteFile(path, []byte("observability:\n  log_level: loud\n"), 0o600)
	}()

	require.NoError(t, WatchProfile(ctx, path, logger, func(*Config) { calls++ }))
	assert.Zero(t, calls)
}
