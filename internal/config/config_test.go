package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acp-bridge/internal/acp"
	"github.com/kandev/acp-bridge/internal/backend"
)

// clearEnv unsets every variable Load reads, and restores whatever was
// previously set once the test completes, so values from the surrounding
// environment cannot leak into the default-value assertions below.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PERMISSION_MODE", "MAX_TURNS", "DEBUG", "LOG_FILE", "BACKEND_PATH",
		"BACKEND_MODE", "BACKEND_API_KEY", "BACKEND_MODEL", "BACKEND_TEMPERATURE",
		"BACKEND_MAX_TOKENS", "CACHE_MAX_SIZE", "CACHE_TTL_MS", "CACHE_STRATEGY",
	} {
		if prev, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, prev) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_DefaultsWhenNoEnvSet(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, acp.PermissionDefault, cfg.PermissionMode)
	assert.Equal(t, 0, cfg.MaxTurns)
	assert.False(t, cfg.Debug)
	assert.Equal(t, backend.ModeSubprocess, cfg.BackendMode)
	assert.Equal(t, CacheLRU, cfg.CacheStrategy)
	assert.InDelta(t, 0.7, cfg.BackendTemperature, 0.0001)
	assert.Equal(t, 4096, cfg.BackendMaxTokens)
}

func TestLoad_ValidPermissionModeIsAccepted(t *testing.T) {
	clearEnv(t)
	t.Setenv("PERMISSION_MODE", "accept_edits")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, acp.PermissionAcceptEdits, cfg.PermissionMode)
}

func TestLoad_InvalidPermissionModeFailsWithPreciseDiagnostic(t *testing.T) {
	clearEnv(t)
	t.Setenv("PERMISSION_MODE", "sudo_mode")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PERMISSION_MODE")
	assert.Contains(t, err.Error(), "sudo_mode")
}

func TestLoad_InvalidMaxTurnsFailsWithPreciseDiagnostic(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_TURNS", "not-a-number")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_TURNS")
}

func TestLoad_NegativeMaxTurnsIsRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_TURNS", "-1")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ZeroMaxTurnsMeansUnlimited(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_TURNS", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MaxTurns)
}

func TestLoad_InvalidBackendModeFailsWithPreciseDiagnostic(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_MODE", "carrier_pigeon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKEND_MODE")
}

func TestLoad_BackendModeIsCaseInsensitive(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_MODE", "HTTP")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, backend.ModeHTTP, cfg.BackendMode)
}

func TestLoad_InvalidCacheStrategyFailsWithPreciseDiagnostic(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_STRATEGY", "most_recently_used")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_STRATEGY")
}

func TestLoad_ValidCacheStrategyIsCaseInsensitive(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_STRATEGY", "LFU")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, CacheLFU, cfg.CacheStrategy)
}

func TestLoad_PassesThroughBackendCredentialsAndTuning(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_API_KEY", "sk-test-123")
	t.Setenv("BACKEND_MODEL", "test-model")
	t.Setenv("BACKEND_TEMPERATURE", "0.2")
	t.Setenv("BACKEND_MAX_TOKENS", "1024")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.BackendAPIKey)
	assert.Equal(t, "test-model", cfg.BackendModel)
	assert.InDelta(t, 0.2, cfg.BackendTemperature, 0.0001)
	assert.Equal(t, 1024, cfg.BackendMaxTokens)
}
