package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EMAIL_MODE", "")
	t.Setenv("EMAIL_ALLOWLIST", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "DRY_RUN", cfg.Email.Mode)
	assert.Equal(t, 50, cfg.Email.CapMaxPerRun)
	assert.Empty(t, cfg.Email.Allowlist)
	assert.False(t, cfg.Review.LenientApproval)
	assert.Equal(t, 72*time.Hour, cfg.Review.UpdateTokenTTL())
	assert.Zero(t, cfg.Dispatch.Interval())
}

func TestLoadEmailOverrides(t *testing.T) {
	t.Setenv("EMAIL_MODE", "capped")
	t.Setenv("EMAIL_CAP_MAX_PER_RUN", "3")
	t.Setenv("EMAIL_THROTTLE_MS", "0")
	t.Setenv("EMAIL_ALLOWLIST", " Ops@Example.com, ,qa@example.com ")
	t.Setenv("BLOCK_NON_ALLOWLIST", "true")
	t.Setenv("APP_PUBLIC_BASE_URL", "https://reg.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "CAPPED", cfg.Email.Mode)
	assert.Equal(t, 3, cfg.Email.CapMaxPerRun)
	assert.Equal(t, 0, cfg.Email.ThrottleMs)
	assert.Equal(t, []string{"ops@example.com", "qa@example.com"}, cfg.Email.Allowlist)
	assert.True(t, cfg.Email.BlockNonAllowlist)
	assert.Equal(t, "https://reg.example.com", cfg.App.PublicBaseURL)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("EMAIL_MODE", "LOUD")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMAIL_MODE")
}

func TestGetEnvAsIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	assert.Equal(t, 7, getEnvAsInt("SOME_INT", 7))
}
