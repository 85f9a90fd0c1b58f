package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ORG_ID", "org1")
	t.Setenv("USER_ID", "u1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, 15, cfg.PageSize)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, PushWebSocket, cfg.PushMode)
	assert.Equal(t, cfg.APIBaseURL, cfg.IdentityBaseURL)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.DebugRoutes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ORG_ID", "org1")
	t.Setenv("USER_ID", "u1")
	t.Setenv("PAGE_SIZE", "30")
	t.Setenv("HTTP_TIMEOUT", "2s")
	t.Setenv("PUSH_MODE", "REDIS")
	t.Setenv("DEBUG_ROUTES", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.PageSize)
	assert.Equal(t, 2*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, PushRedis, cfg.PushMode)
	assert.True(t, cfg.DebugRoutes)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("ORG_ID", "org1")
	t.Setenv("USER_ID", "u1")

	t.Setenv("PAGE_SIZE", "many")
	_, err := Load()
	assert.ErrorContains(t, err, "PAGE_SIZE")

	t.Setenv("PAGE_SIZE", "15")
	t.Setenv("PUSH_MODE", "carrier-pigeon")
	_, err = Load()
	assert.ErrorContains(t, err, "PUSH_MODE")
}

func TestLoadRequiresIdentity(t *testing.T) {
	t.Setenv("ORG_ID", "")
	t.Setenv("USER_ID", "u1")

	_, err := Load()
	assert.ErrorContains(t, err, "ORG_ID")
}
