package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg := Load()
	assert.Equal(t, "http://localhost:8080/api/chat", cfg.API.BaseURL)
	assert.Equal(t, 25, cfg.API.MaxUploadMB)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay())
	assert.Equal(t, 4*time.Second, cfg.Heartbeat())
	assert.Equal(t, 3*time.Second, cfg.TypingTimeout())
}

func TestYAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://chat.example.com/api
  max_upload_mb: 10
ws:
  url: wss://chat.example.com/ws
  reconnect_delay_ms: 2000
metrics_addr: 127.0.0.1:9901
`), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()
	assert.Equal(t, "https://chat.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, 10, cfg.API.MaxUploadMB)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.WS.URL)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay())
	assert.Equal(t, "127.0.0.1:9901", cfg.MetricsAddr)
}

func TestEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  base_url: https://file.example.com\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("API_BASE_URL", "https://env.example.com")
	t.Setenv("RECONNECT_DELAY_MS", "1500")
	t.Setenv("TYPING_TIMEOUT_MS", "500")

	cfg := Load()
	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.ReconnectDelay())
	assert.Equal(t, 500*time.Millisecond, cfg.TypingTimeout())
}
