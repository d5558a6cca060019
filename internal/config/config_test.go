package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.BootstrapAdminPassword)
	assert.Error(t, cfg.Validate())
}

func TestLoadAppliesDefaults(t *testing.T) {
	unsetEnv(t, "PORT", "ACCESS_TOKEN_TTL", "REPORT_CACHE_TTL", "LOG_LEVEL")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 2*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.ReportCacheTTL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ACCESS_TOKEN_TTL", "45m")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("AUTH_SECRET", "  "+strings.Repeat("s", 40)+"  ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, 45*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.AutoMigrate)
	assert.Len(t, cfg.AuthSecret, 40)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{AuthSecret: strings.Repeat("x", MinAuthSecretLength), AllowedOrigin: "http://localhost:3000"}
	require.NoError(t, base.Validate())

	short := base
	short.AuthSecret = "short"
	assert.Error(t, short.Validate())

	halfAdmin := base
	halfAdmin.BootstrapAdminEmail = "admin@example.com"
	assert.Error(t, halfAdmin.Validate())

	weakAdmin := halfAdmin
	weakAdmin.BootstrapAdminPassword = "123"
	assert.Error(t, weakAdmin.Validate())

	fullAdmin := halfAdmin
	fullAdmin.BootstrapAdminPassword = "correct-horse"
	assert.NoError(t, fullAdmin.Validate())

	wildcard := base
	wildcard.AllowedOrigin = "*"
	assert.Error(t, wildcard.Validate())
}

// unsetEnv removes keys for the duration of the test; t.Setenv restores them.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}
