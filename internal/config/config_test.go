package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_TYPE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MQTT_BROKER_URL", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.MQTT.Enabled())
	assert.Equal(t, "sensors/+/+", cfg.MQTT.Topic)
	assert.Equal(t, time.Second, cfg.MQTT.BatchWindow)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_TYPE", "SQLite")
	t.Setenv("DATABASE_AUTO_MIGRATE", "off")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("MQTT_BROKER_URL", "tcp://broker:1883")
	t.Setenv("MQTT_QOS", "7")

	cfg := Load()

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.False(t, cfg.DBAutoMigrate)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
}

func TestGetenvBoolFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_FLAG", "maybe")
	assert.True(t, getenvBool("SOME_FLAG", true))
	assert.False(t, getenvBool("SOME_FLAG", false))
}

func TestReadingsConfigDefaultsWithoutFile(t *testing.T) {
	holder, err := newReadingsConfigHolder(t.TempDir())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 24*time.Hour, cfg.QueryWindow)
	assert.Equal(t, 1000, cfg.MaxBatchSize)
	assert.True(t, cfg.Atomic())
}

func TestReadingsConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("readings:\n  query_window: 6h\n  atomic_batch: false\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readings.yml"), content, 0o600))

	holder, err := newReadingsConfigHolder(dir)
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 6*time.Hour, cfg.QueryWindow)
	assert.Equal(t, 1000, cfg.MaxBatchSize)
	assert.False(t, cfg.Atomic())
}

func TestReadingsConfigRejectsNegativeWindow(t *testing.T) {
	dir := t.TempDir()
	content := []byte("readings:\n  query_window: -1h\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readings.yml"), content, 0o600))

	_, err := newReadingsConfigHolder(dir)
	assert.Error(t, err)
}

func TestNilHolderReturnsDefaults(t *testing.T) {
	var holder *ReadingsConfigHolder
	assert.Equal(t, 24*time.Hour, holder.Get().QueryWindow)
}
