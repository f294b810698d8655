package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromPathCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	// File should now exist on disk.
	_, err = os.Stat(path)
	require.NoError(t, err)

	assert.Equal(t, ":8600", cfg.Server.Addr)
	assert.Equal(t, 20, cfg.Health.Window)
	assert.Equal(t, 0.5, cfg.Health.ErrorThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Memory.SessionTTL)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "mock", cfg.Providers[0].Kind)
}

func TestLoadFromPathAppliesDefaultsToPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	partial := `
server:
  addr: ":9999"
providers:
  - id: alpha
    kind: mock
    tags: [fast]
`
	require.NoError(t, os.WriteFile(path, []byte(partial), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	// Unspecified sections fall back to defaults.
	assert.Equal(t, 20, cfg.Health.Window)
	assert.Equal(t, 8, cfg.Memory.WorkingCapacity)
	assert.Equal(t, "local", cfg.Storage.SessionBackend)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cfg := Default()
	cfg.Providers = nil
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Providers = append(cfg.Providers, ProviderConfig{ID: "mock", Kind: "mock"})
	assert.Error(t, cfg.Validate(), "duplicate id")

	cfg = Default()
	cfg.Providers[0].Kind = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Health.ErrorThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "x.db"), expandPath("~/x.db"))
	assert.Equal(t, "/tmp/x.db", expandPath("/tmp/x.db"))
	assert.Equal(t, "", expandPath(""))
}
