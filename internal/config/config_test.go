package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authtwin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultAPIKey, cfg.APIKey)
	assert.True(t, cfg.Mock.Enabled)
	assert.Equal(t, DefaultMockPort, cfg.Mock.Port)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, []string{"неправиль"}, cfg.NegativeKeyMarkers)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeFile(t, `
base_url: http://api.test:9090/
api_key: FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF
negative_key_markers: ["bogus"]
timeout: 2s
mock:
  enabled: false
  port: 9999
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://api.test:9090", cfg.BaseURL, "trailing slash is trimmed")
	assert.Equal(t, "http://api.test:9090/endpoint", cfg.EndpointURL())
	assert.Equal(t, "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF", cfg.APIKey)
	assert.Equal(t, []string{"bogus"}, cfg.NegativeKeyMarkers)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.False(t, cfg.Mock.Enabled)
	assert.Equal(t, 9999, cfg.Mock.Port)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "base_url: http://from-file\n")
	t.Setenv("AUTHTWIN_BASE_URL", "http://from-env")
	t.Setenv("AUTHTWIN_MOCK_PORT", "7777")
	t.Setenv("AUTHTWIN_TIMEOUT", "750ms")
	t.Setenv("AUTHTWIN_NEGATIVE_KEY_MARKERS", "wrong,bad")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://from-env", cfg.BaseURL)
	assert.Equal(t, 7777, cfg.Mock.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Timeout)
	assert.Equal(t, []string{"wrong", "bad"}, cfg.NegativeKeyMarkers)
	assert.Equal(t, "http://localhost:7777", cfg.MockURL())
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeFile(t, "base_url: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.BaseURL = " " }},
		{"relative endpoint path", func(c *Config) { c.EndpointPath = "endpoint" }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"port out of range", func(c *Config) { c.Mock.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	remote := Default()
	remote.Mock.Port = 0
	remote.Mock.AdminURL = "http://mock:8888/"
	assert.NoError(t, remote.Validate(), "port is unused when the double is remote")
	assert.Equal(t, "http://mock:8888", remote.MockURL())
}
