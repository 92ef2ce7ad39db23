package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":3001", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.CatalogTTL)
	assert.Equal(t, "https://api.jikan.moe/v4", cfg.Catalog.BaseURL)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
http:
  addr: ":9000"
cache:
  live_ttl: 30s
catalog:
  timeout: 2s
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("REDIS_CONNSTRING", "localhost:6380")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.HTTP.Addr, "env overrides file")
	assert.Equal(t, 30*time.Second, cfg.Cache.LiveTTL)
	assert.Equal(t, 2*time.Second, cfg.Catalog.Timeout)
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Cache.Backend = "disk" },
			wantErr: `unknown cache.backend "disk"`,
		},
		{
			name:    "redis backend without address",
			mutate:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: "requires redis.addr",
		},
		{
			name:    "zero ttl",
			mutate:  func(c *Config) { c.Cache.LiveTTL = 0 },
			wantErr: "cache.live_ttl must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
