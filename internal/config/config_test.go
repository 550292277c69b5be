package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, int32(8), cfg.PostgresMaxConns)
	assert.Equal(t, "jwt", cfg.JWTCookie)
	assert.Equal(t, 4, cfg.NotifierWorkers)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvThenFlags(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("NOTIFIER_WORKERS", "12")
	t.Setenv("SERVICE_NAME", "from-env")

	cfg, err := Load([]string{"--service-name", "from-flag"})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 12, cfg.NotifierWorkers)
	assert.Equal(t, "from-flag", cfg.ServiceName)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_name: Dhaka Mart\nlog_level: debug\n"), 0o600))

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, "Dhaka Mart", cfg.StoreName)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_UnknownFlag(t *testing.T) {
	_, err := Load([]string{"--nope"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	err := Config{}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
	assert.Contains(t, err.Error(), "NOTIFIER_WORKERS")
}
