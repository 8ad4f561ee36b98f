package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("PORT", "")
	t.Setenv("WS_SEND_BUFFER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, "chat.events", cfg.AMQPExchange)
	assert.Equal(t, 64, cfg.WSSendBuffer)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DB_DSN", MemoryDSN)
	t.Setenv("OTEL_ENABLED", "yes")
	t.Setenv("WS_SEND_BUFFER", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, MemoryDSN, cfg.DatabaseDSN)
	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, 8, cfg.WSSendBuffer)
}

func TestLoadProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DB_DSN", "postgres://x")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}
