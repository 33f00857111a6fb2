package storage

import "time"

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverOracle   = "oracle"
)

// DatabaseConfig holds a database/sql connection pool configuration
type DatabaseConfig struct {
	// Driver is postgres, sqlite3 or oracle
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

// RedisConfig holds the optional redis connection settings
type RedisConfig struct {
	// URL is a redis:// URL, empty to run without redis
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MaxRetries int    `yaml:"max_retries"`
	PoolSize   int    `yaml:"pool_size"`
}

// DefaultDatabaseConfig returns sensible pool defaults for driver
func DefaultDatabaseConfig(driver string) DatabaseConfig {
	return DatabaseConfig{
		Driver:      driver,
		MaxConns:    20,
		MinConns:    2,
		Timeout:     10 * time.Second,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}

// DefaultRedisConfig returns sensible redis defaults
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		MaxRetries: 3,
		PoolSize:   10,
	}
}
