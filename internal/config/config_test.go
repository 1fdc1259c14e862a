package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, "snapshots", cfg.SnapshotDir)
	require.Equal(t, "A", cfg.Keys["a"])
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	cfg := &Config{RomPath: "game.nds", SnapshotInterval: 60}
	cfg.Defaults()

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "game.nds", loaded.RomPath)
	require.Equal(t, 60, loaded.SnapshotInterval)
}
