package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDatabase_SQLite(t *testing.T) {
	config := DefaultDatabaseConfig(DriverSQLite)
	config.DSN = "file::memory:?_foreign_keys=on"

	db, err := OpenDatabase(context.Background(), config)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}

func TestOpenDatabase_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		config DatabaseConfig
		want   string
	}{
		{name: "unknown driver", config: DatabaseConfig{Driver: "mysql", DSN: "x"}, want: "unsupported database driver"},
		{name: "missing dsn", config: DatabaseConfig{Driver: DriverPostgres}, want: "DSN is required"},
		{name: "unreachable postgres", config: DatabaseConfig{
			Driver:  DriverPostgres,
			DSN:     "postgres://padron@127.0.0.1:1/padron?sslmode=disable&connect_timeout=1",
			Timeout: 2 * time.Second,
		}, want: "failed to ping postgres"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := OpenDatabase(context.Background(), tt.config)
			require.Error(t, err)
			assert.Nil(t, db)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewRedisClient(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		client, err := NewRedisClient(context.Background(), RedisConfig{})
		require.NoError(t, err)
		assert.Nil(t, client)
	})

	t.Run("connects", func(t *testing.T) {
		mr := miniredis.RunT(t)
		config := DefaultRedisConfig()
		config.URL = "redis://" + mr.Addr() + "/0"
		config.DB = 2

		client, err := NewRedisClient(context.Background(), config)
		require.NoError(t, err)
		require.NotNil(t, client)
		defer client.Close()

		assert.Equal(t, 2, client.Options().DB)
		assert.Equal(t, 10, client.Options().PoolSize)
		require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := NewRedisClient(context.Background(), RedisConfig{URL: "http://nope"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid redis URL")
	})

	t.Run("unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := NewRedisClient(context.Background(), RedisConfig{URL: "redis://" + addr})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to redis")
	})
}
