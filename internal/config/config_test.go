package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "TEST")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "TEST", cfg.Env)
	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, int64(10<<20), cfg.HTTP.MaxUploadBytes)
	assert.Equal(t, "gradeflow", cfg.Mongo.Database)
	assert.Equal(t, 30*time.Minute, cfg.Worker.StaleAfter)
	assert.Equal(t, DetectorMock, cfg.AI.DetectorBackend)
	assert.Equal(t, DetectorMock, cfg.AI.CorrectorBackend)
	assert.False(t, cfg.AI.IsEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "TEST")
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_URI", "redis://cache:6380")
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("DETECTOR_BACKEND", "mock")
	t.Setenv("PROCESSING_STALE_AFTER", "45m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 45*time.Minute, cfg.Worker.StaleAfter)
	assert.Equal(t, DetectorMock, cfg.AI.DetectorBackend)
	assert.Equal(t, DetectorGemini, cfg.AI.CorrectorBackend)
	assert.True(t, cfg.AI.IsEnabled())
}

func TestLoadRejectsDefaultSecretInProd(t *testing.T) {
	t.Setenv("ENV", "PROD")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestModelEndpoint(t *testing.T) {
	cfg := AIConfig{BaseURL: "https://example.test/v1beta/models"}
	assert.Equal(t, "https://example.test/v1beta/models/gemini-2.0-flash:generateContent", cfg.ModelEndpoint("gemini-2.0-flash"))
}
