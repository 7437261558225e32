package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 30, cfg.Tables.MaxRetries)
	assert.Equal(t, 12*time.Hour, cfg.Tables.TurnBasedTurn)
	assert.False(t, cfg.Redis.Enabled)
	assert.Empty(t, cfg.Games.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  http_address: ":9000"
games:
  enabled: [pig, tictactoe]
tables:
  sweep_interval: 1s
nats:
  enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("TABLETOP_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.HTTPAddress)
	assert.Equal(t, []string{"pig", "tictactoe"}, cfg.Games.Enabled)
	assert.Equal(t, time.Second, cfg.Tables.SweepInterval)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("TABLETOP_STORAGE_DRIVER", "mongo")
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}
