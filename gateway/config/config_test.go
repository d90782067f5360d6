package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeFile(t, `
listen: ":9090"
readTimeout: 5s
observability:
  serviceName: custom
  metrics: true
  logRequests: false
  metricsPrefix: gateway
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddress)
	require.Equal(t, 5*time.Second, cfg.ReadTimeout)
	require.Equal(t, "custom", cfg.Observability.ServiceName)
	// Untouched fields keep their defaults.
	require.Equal(t, 30*time.Second, cfg.WriteTimeout)
	require.Equal(t, 4096, cfg.EventFeedSize)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "listen: \":9090\"\nbogus: true\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateAuthSecret(t *testing.T) {
	cfg := Default()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())
	cfg.Auth.Secret = "short"
	require.Error(t, cfg.Validate())
	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"
	require.NoError(t, cfg.Validate())
}

func TestValidateIdempotency(t *testing.T) {
	cfg := Default()
	cfg.Idempotency.Enabled = true
	require.Error(t, cfg.Validate())
	cfg.Idempotency.Path = "/tmp/idempotency.db"
	require.NoError(t, cfg.Validate())
	cfg.Idempotency.TTL = 0
	require.Error(t, cfg.Validate())
}
