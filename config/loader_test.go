package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 4*time.Minute, cfg.Council.StandardQueryTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Council.ProQueryTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Council.StandardSynthesisTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Council.ProSynthesisTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_FilePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_port: 9999
council:
  pro_models:
    - custom/slow-model
gateway:
  base_url: https://gateway.internal/v1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"custom/slow-model"}, cfg.Council.ProModels)
	assert.Equal(t, "https://gateway.internal/v1", cfg.Gateway.BaseURL)
	// Untouched sections keep defaults.
	assert.Equal(t, 4*time.Minute, cfg.Council.StandardQueryTimeout)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9999\n"), 0o600))

	t.Setenv("COUNCILFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("COUNCILFLOW_COUNCIL_PRO_QUERY_TIMEOUT", "6m")
	t.Setenv("COUNCILFLOW_COUNCIL_PRO_MODELS", "a/one, b/two")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 6*time.Minute, cfg.Council.ProQueryTimeout)
	assert.Equal(t, []string{"a/one", "b/two"}, cfg.Council.ProModels)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.HTTPPort, cfg.Server.HTTPPort)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return assert.AnError }).
		Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero port rejected",
			mutate:  func(c *Config) { c.Server.HTTPPort = 0 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "empty gateway url rejected",
			mutate:  func(c *Config) { c.Gateway.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name: "synthesis budget must exceed query budget",
			mutate: func(c *Config) {
				c.Council.StandardSynthesisTimeout = c.Council.StandardQueryTimeout
			},
			wantErr: "synthesis timeouts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "u", Password: "p", Name: "council", SSLMode: "disable",
	}
	assert.Contains(t, d.DSN(), "host=db")
	assert.Contains(t, d.DSN(), "dbname=council")

	d.Driver = "mysql"
	assert.Contains(t, d.DSN(), "@tcp(db:5432)/council")

	d.Driver = "sqlite"
	assert.Equal(t, "council", d.DSN())

	d.Driver = "bogus"
	assert.Empty(t, d.DSN())
}
