package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := FromEnv()
	require.ErrorIs(t, err, ErrMissingJWTSecret)
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.HistoryTimeout)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Equal(t, "chat.events", cfg.AMQPExchange)
	assert.False(t, cfg.DebugRoutes)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9999")
	t.Setenv("HISTORY_TIMEOUT", "750ms")
	t.Setenv("PERSIST_TIMEOUT", "2")
	t.Setenv("SEND_BUFFER", "16")
	t.Setenv("RATE_LIMIT_PER_SECOND", "2.5")
	t.Setenv("ALLOWED_ORIGINS", " http://a.test , *,")
	t.Setenv("DEBUG_ROUTES", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.HistoryTimeout)
	assert.Equal(t, 2*time.Second, cfg.PersistTimeout)
	assert.Equal(t, 16, cfg.SendBuffer)
	assert.Equal(t, 2.5, cfg.RatePerSecond)
	assert.Equal(t, []string{"http://a.test", "*"}, cfg.AllowedOrigins)
	assert.True(t, cfg.DebugRoutes)
}

func TestFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SEND_BUFFER", "-4")
	t.Setenv("HISTORY_TIMEOUT", "soon")
	t.Setenv("DEBUG_ROUTES", "maybe")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Equal(t, 5*time.Second, cfg.HistoryTimeout)
	assert.False(t, cfg.DebugRoutes)
}
