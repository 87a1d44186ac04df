package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "STORE_BACKEND", "DATA_FILE", "CORS_ALLOWED_ORIGINS", "WRITE_LIMIT_PER_MIN", "SHUTDOWN_TIMEOUT"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Equal(t, "data.json", cfg.Store.DataFile)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 0, cfg.WriteLimitPerMin)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Bolt")
	t.Setenv("DB_MAX_OPEN_CONNS", "20")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")

	cfg := Load()

	assert.Equal(t, BackendBolt, cfg.Store.Backend)
	assert.Equal(t, 20, cfg.Store.Database.MaxOpenConns)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT_VAR", "invalid")
	assert.Equal(t, 10, getEnvInt("TEST_INT_VAR", 10))

	t.Setenv("TEST_BOOL_VAR", "invalid")
	assert.True(t, getEnvBool("TEST_BOOL_VAR", true))

	t.Setenv("TEST_DUR_VAR", "soon")
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DUR_VAR", time.Minute))

	t.Setenv("TEST_LIST_VAR", " , ")
	assert.Equal(t, []string{"x"}, getEnvList("TEST_LIST_VAR", []string{"x"}))
}

func TestPostgresDSN(t *testing.T) {
	_, err := DatabaseConfig{Host: "db"}.PostgresDSN()
	require.Error(t, err)

	dsn, err := DatabaseConfig{
		Host: "db", Port: "5432", User: "med", Password: "p@ss", Name: "medistore", SSLMode: "disable",
	}.PostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://med:p%40ss@db:5432/medistore?sslmode=disable", dsn)
}
