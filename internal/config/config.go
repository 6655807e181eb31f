// Package config loads the runner configuration: defaults, then an optional
// YAML file, then AUTHTWIN_* environment overrides. It is read once at start
// and treated as immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up when no path is given.
const DefaultFile = "authtwin.yaml"

// Defaults.
const (
	DefaultBaseURL      = "http://localhost:8080"
	DefaultEndpointPath = "/endpoint"
	DefaultAPIKey       = "A94F2C7D8E1B4A6F9C3D2E5B8A7F1C0D"
	DefaultMockPort     = 8888
	DefaultTimeout      = 5 * time.Second
)

// Mock configures the upstream double.
type Mock struct {
	Enabled bool `yaml:"enabled" env:"AUTHTWIN_MOCK_ENABLED"`
	Port    int  `yaml:"port" env:"AUTHTWIN_MOCK_PORT"`
	// AdminURL points at a double running in another process. Empty means
	// the runner hosts the double itself on Port.
	AdminURL string `yaml:"admin_url" env:"AUTHTWIN_MOCK_ADMIN_URL"`
}

// Config is the full runner configuration.
type Config struct {
	BaseURL      string `yaml:"base_url" env:"AUTHTWIN_BASE_URL"`
	EndpointPath string `yaml:"endpoint_path" env:"AUTHTWIN_ENDPOINT_PATH"`
	// APIKey is sent by default and doubles as the auto-fix fallback key.
	APIKey string `yaml:"api_key" env:"AUTHTWIN_API_KEY"`
	// NegativeKeyMarkers flag an API key as deliberately wrong; such keys
	// disable the fallback retry.
	NegativeKeyMarkers []string      `yaml:"negative_key_markers" env:"AUTHTWIN_NEGATIVE_KEY_MARKERS"`
	Mock               Mock          `yaml:"mock"`
	Timeout            time.Duration `yaml:"timeout" env:"AUTHTWIN_TIMEOUT"`
	ResultsDir         string        `yaml:"results_dir" env:"AUTHTWIN_RESULTS_DIR"`
	Verbose            bool          `yaml:"verbose" env:"AUTHTWIN_VERBOSE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:            DefaultBaseURL,
		EndpointPath:       DefaultEndpointPath,
		APIKey:             DefaultAPIKey,
		NegativeKeyMarkers: []string{"неправиль"},
		Mock: Mock{
			Enabled: true,
			Port:    DefaultMockPort,
		},
		Timeout: DefaultTimeout,
	}
}

// Load reads the config at path. A missing file yields the defaults; the
// environment is applied last either way.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the runner cannot work with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("config: base_url is required")
	}
	if !strings.HasPrefix(c.EndpointPath, "/") {
		return fmt.Errorf("config: endpoint_path %q must start with /", c.EndpointPath)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	if c.Mock.Enabled && c.Mock.AdminURL == "" && (c.Mock.Port < 1 || c.Mock.Port > 65535) {
		return fmt.Errorf("config: mock.port %d out of range", c.Mock.Port)
	}
	return nil
}

// EndpointURL is the full URL of the API endpoint under test.
func (c *Config) EndpointURL() string {
	return c.BaseURL + c.EndpointPath
}

// MockURL is the base URL of the upstream double.
func (c *Config) MockURL() string {
	if c.Mock.AdminURL != "" {
		return strings.TrimRight(c.Mock.AdminURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.Mock.Port)
}
