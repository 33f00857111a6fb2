package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/padron/pkg/httputil"
	"github.com/platinummonkey/padron/pkg/observability"
	"github.com/platinummonkey/padron/pkg/storage"
)

// ProfileEnv names the environment variable holding the profile path
const ProfileEnv = "PADRON_PROFILE"

// minSecretLength matches the HS256 key size
const minSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig           `yaml:"server"`
	Database      storage.DatabaseConfig `yaml:"database"`
	Registry      RegistryConfig         `yaml:"registry"`
	Auth          AuthConfig             `yaml:"auth"`
	Redis         storage.RedisConfig    `yaml:"redis"`
	Observability ObservabilityConfig    `yaml:"observability"`
	Audit         AuditConfig            `yaml:"audit"`
	Maintenance   MaintenanceConfig      `yaml:"maintenance"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	// TrustedProxies are addresses or CIDR ranges whose X-Forwarded-For is believed
	TrustedProxies  []string      `yaml:"trusted_proxies"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// RegistryConfig holds the citizen registry connection
type RegistryConfig struct {
	storage.DatabaseConfig `yaml:",inline"`

	// Schema prefixes the registry tables
	Schema string `yaml:"schema"`

	// DescriptionCacheSize bounds the instruction level description cache
	DescriptionCacheSize int           `yaml:"description_cache_size"`
	DescriptionCacheTTL  time.Duration `yaml:"description_cache_ttl"`
}

// AuthConfig holds login and session settings
type AuthConfig struct {
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SecureCookie  bool          `yaml:"secure_cookie"`

	// Domain is stripped from usernames such as ana@ayto.example
	Domain string `yaml:"domain"`

	// Users maps usernames to bcrypt password hashes
	Users map[string]string `yaml:"users"`

	SelfRegistration bool `yaml:"self_registration"`

	// AuxiliaryUsername is the reserved administrator account
	AuxiliaryUsername     string `yaml:"auxiliary_username"`
	AuxiliaryPasswordHash string `yaml:"auxiliary_password_hash"`

	LoginAttempts int           `yaml:"login_attempts"`
	LoginWindow   time.Duration `yaml:"login_window"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// AuditConfig holds the access trail settings
type AuditConfig struct {
	// Enabled records events in the role database
	Enabled bool `yaml:"enabled"`

	// FilePath additionally appends events to a JSON lines file
	FilePath     string `yaml:"file_path"`
	FileMaxSize  int64  `yaml:"file_max_size"`
	FileMaxFiles int    `yaml:"file_max_files"`
}

// MaintenanceConfig holds background job schedules
type MaintenanceConfig struct {
	// IntegritySchedule is a cron expression, empty to disable the check
	IntegritySchedule string `yaml:"integrity_schedule"`
}

// Level returns the parsed log level, info when unparseable
func (o ObservabilityConfig) Level() observability.LogLevel {
	level, _ := observability.ParseLogLevel(o.LogLevel)
	return level
}

// OTel returns the tracing settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Credentials returns the static users including the auxiliary administrator
func (a AuthConfig) Credentials() map[string]string {
	users := make(map[string]string, len(a.Users)+1)
	for username, hash := range a.Users {
		users[username] = hash
	}
	if a.AuxiliaryUsername != "" && a.AuxiliaryPasswordHash != "" {
		users[a.AuxiliaryUsername] = a.AuxiliaryPasswordHash
	}
	return users
}

// Default returns the configuration used when neither profile nor
// environment set a value
func Default() *Config {
	registryDB := storage.DefaultDatabaseConfig(storage.DriverOracle)
	registryDB.MaxConns = 10

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: storage.DefaultDatabaseConfig(storage.DriverPostgres),
		Registry: RegistryConfig{
			DatabaseConfig:       registryDB,
			Schema:               "REPOS",
			DescriptionCacheSize: 256,
			DescriptionCacheTTL:  time.Hour,
		},
		Auth: AuthConfig{
			SessionTTL:       8 * time.Hour,
			SelfRegistration: true,
			LoginAttempts:    10,
			LoginWindow:      time.Minute,
		},
		Redis: storage.DefaultRedisConfig(),
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "padron",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Maintenance: MaintenanceConfig{
			IntegritySchedule: "@every 1h",
		},
	}
}

// LoadConfig reads the optional YAML profile at profilePath over the
// defaults, applies PADRON_* environment overrides and validates the result
func LoadConfig(profilePath string) (*Config, error) {
	cfg := Default()

	if profilePath != "" {
		if err := loadProfile(profilePath, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ProfilePath returns flagValue, falling back to PADRON_PROFILE
func ProfilePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(ProfileEnv)
}

func loadProfile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Host = getEnv("PADRON_HOST", s.Host)
	s.Port = getEnv("PADRON_PORT", s.Port)
	s.HealthPort = getEnv("PADRON_HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("PADRON_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("PADRON_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("PADRON_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("PADRON_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.CORSOrigins = getEnvList("PADRON_CORS_ORIGINS", s.CORSOrigins)
	s.TrustedProxies = getEnvList("PADRON_TRUSTED_PROXIES", s.TrustedProxies)

	applyDatabaseEnv("PADRON_DB", &cfg.Database)
	applyDatabaseEnv("PADRON_REGISTRY", &cfg.Registry.DatabaseConfig)
	cfg.Registry.Schema = getEnv("PADRON_REGISTRY_SCHEMA", cfg.Registry.Schema)

	a := &cfg.Auth
	a.SessionSecret = getEnv("PADRON_SESSION_SECRET", a.SessionSecret)
	a.SessionTTL = getEnvDuration("PADRON_SESSION_TTL", a.SessionTTL)
	a.SecureCookie = getEnvBool("PADRON_SECURE_COOKIE", a.SecureCookie)
	a.Domain = getEnv("PADRON_AUTH_DOMAIN", a.Domain)
	a.SelfRegistration = getEnvBool("PADRON_SELF_REGISTRATION", a.SelfRegistration)
	a.AuxiliaryUsername = getEnv("PADRON_AUXILIARY_USERNAME", a.AuxiliaryUsername)
	a.AuxiliaryPasswordHash = getEnv("PADRON_AUXILIARY_PASSWORD_HASH", a.AuxiliaryPasswordHash)
	a.LoginAttempts = getEnvInt("PADRON_LOGIN_ATTEMPTS", a.LoginAttempts)
	a.LoginWindow = getEnvDuration("PADRON_LOGIN_WINDOW", a.LoginWindow)

	r := &cfg.Redis
	r.URL = getEnv("PADRON_REDIS_URL", r.URL)
	r.Password = getEnv("PADRON_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("PADRON_REDIS_DB", r.DB)
	r.PoolSize = getEnvInt("PADRON_REDIS_POOL_SIZE", r.PoolSize)

	o := &cfg.Observability
	o.LogLevel = getEnv("PADRON_LOG_LEVEL", o.LogLevel)
	o.LogPath = getEnv("PADRON_LOG_PATH", o.LogPath)
	o.MetricsEnabled = getEnvBool("PADRON_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("PADRON_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("PADRON_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("PADRON_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("PADRON_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("PADRON_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("PADRON_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)

	cfg.Audit.Enabled = getEnvBool("PADRON_AUDIT_ENABLED", cfg.Audit.Enabled)
	cfg.Audit.FilePath = getEnv("PADRON_AUDIT_FILE", cfg.Audit.FilePath)

	cfg.Maintenance.IntegritySchedule = getEnv("PADRON_INTEGRITY_SCHEDULE", cfg.Maintenance.IntegritySchedule)
}

func applyDatabaseEnv(prefix string, db *storage.DatabaseConfig) {
	db.Driver = getEnv(prefix+"_DRIVER", db.Driver)
	db.DSN = getEnv(prefix+"_DSN", db.DSN)
	db.MaxConns = getEnvInt(prefix+"_MAX_CONNS", db.MaxConns)
	db.MinConns = getEnvInt(prefix+"_MIN_CONNS", db.MinConns)
	db.Timeout = getEnvDuration(prefix+"_TIMEOUT", db.Timeout)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Validate server config
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.HealthPort == "" {
		errs = append(errs, errors.New("health port is required"))
	}
	if c.Server.Port != "" && c.Server.Port == c.Server.HealthPort {
		errs = append(errs, errors.New("server port and health port must be different"))
	}

	switch c.Database.Driver {
	case storage.DriverPostgres, storage.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}

	switch c.Registry.Driver {
	case storage.DriverOracle, storage.DriverPostgres, storage.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("invalid registry driver: %s (must be oracle, postgres or sqlite3)", c.Registry.Driver))
	}
	if c.Registry.DSN == "" {
		errs = append(errs, errors.New("registry DSN is required"))
	}
	if c.Registry.DescriptionCacheSize <= 0 {
		errs = append(errs, errors.New("registry description cache size must be positive"))
	}

	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		errs = append(errs, err)
	}

	if len(c.Auth.SessionSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("session secret must be at least %d bytes", minSecretLength))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("session TTL must be positive"))
	}
	if c.Auth.LoginAttempts <= 0 || c.Auth.LoginWindow <= 0 {
		errs = append(errs, errors.New("login attempts and window must be positive"))
	}
	if c.Auth.AuxiliaryPasswordHash != "" && c.Auth.AuxiliaryUsername == "" {
		errs = append(errs, errors.New("auxiliary password hash requires an auxiliary username"))
	}

	if _, err := observability.ParseLogLevel(c.Observability.LogLevel); err != nil {
		errs = append(errs, err)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	if c.Audit.FileMaxSize < 0 || c.Audit.FileMaxFiles < 0 {
		errs = append(errs, errors.New("audit file rotation limits must not be negative"))
	}

	if schedule := c.Maintenance.IntegritySchedule; schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid integrity schedule %q: %w", schedule, err))
		}
	}

	return errors.Join(errs...)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
