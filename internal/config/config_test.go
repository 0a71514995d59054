package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
provider:
  base_url: "https://api.example.com/v1"
storage:
  type: "memory"
quota:
  signing_secret: "s3cret"
logging:
  level: "info"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(2), cfg.Quota.FreeLimit)
	assert.Equal(t, 24*time.Hour, cfg.Quota.TokenTTL)
	assert.Equal(t, "lq_quota", cfg.Quota.CookieName)
	assert.Equal(t, 10, cfg.RateLimit.Anonymous.Requests)
	assert.Equal(t, 60, cfg.RateLimit.Registered.Requests)
	assert.Equal(t, 0.3, cfg.Provider.Temperature)
}

func TestLoadConfigRequiresProviderBaseURL(t *testing.T) {
	path := writeConfig(t, `
storage:
  type: "memory"
quota:
  signing_secret: "s3cret"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider base URL")
}

func TestLoadConfigRequiresSigningSecret(t *testing.T) {
	path := writeConfig(t, `
provider:
  base_url: "https://api.example.com/v1"
storage:
  type: "memory"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing secret")
}

func TestLoadConfigRejectsUnknownStorage(t *testing.T) {
	path := writeConfig(t, `
provider:
  base_url: "https://api.example.com/v1"
storage:
  type: "cassandra"
quota:
  signing_secret: "s3cret"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage type")
}
