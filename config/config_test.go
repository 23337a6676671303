package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withIsolatedHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SUDO_USER", "")
	t.Setenv("USER", "")
	return home
}

func TestDirCreatesAndReturnsPerUserRuntimeDirectory(t *testing.T) {
	home := withIsolatedHome(t)

	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".buttplug"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoadWritesDefaultConfigOnFirstRun(t *testing.T) {
	withIsolatedHome(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path, err := File(configFileName)
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "Load should have written a default config.toml")
}

func TestLoadReadsBackPreviouslyWrittenOverrides(t *testing.T) {
	withIsolatedHome(t)

	_, err := Load() // writes the default file
	require.NoError(t, err)

	path, err := File(configFileName)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("ping_timeout = 45000000000\nenable_ble = false\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.PingTimeout)
	assert.False(t, cfg.EnableBLE)
}
