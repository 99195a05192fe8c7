package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func isolateConfigRoot(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("APPDATA", "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "manualgrab")
}

func TestLoadMergedWithoutConfigUsesDefaults(t *testing.T) {
	isolateConfigRoot(t)

	cfg, src, err := LoadMerged(Options{})
	require.NoError(t, err)
	require.Contains(t, src, "default config in memory")

	require.Equal(t, ".", cfg.Output)
	require.Equal(t, "https://www.manua.ls", cfg.BaseURL)
	require.Equal(t, 2000, cfg.RequestFloorMS)
	require.Equal(t, 5000, cfg.RelaxedFloorMS)
	require.Equal(t, 5, cfg.BackoffThreshold)
	require.Equal(t, 3, cfg.MaxAttempts)

	// state paths derive from the config root when unset
	require.Equal(t, StatePath("journal.jsonl"), cfg.Journal)
	require.Equal(t, StatePath("rate_marker"), cfg.RateMarker)
	require.Equal(t, StatePath("spool"), cfg.SpoolDir)
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	isolateConfigRoot(t)

	path, err := InitDefaultConfig()
	require.NoError(t, err)

	saved := DefaultConfig()
	saved.Output = "/data/manuals"
	saved.RequestFloorMS = 1500
	saved.Category = "laptops"
	require.NoError(t, SaveYAML(saved, path))

	cfg, src, err := LoadMerged(Options{
		Output:      "/tmp/override",
		MaxAttempts: 7,
	})
	require.NoError(t, err)
	require.Equal(t, path, src)

	require.Equal(t, "/tmp/override", cfg.Output) // flag wins
	require.Equal(t, 1500, cfg.RequestFloorMS)    // file wins over default
	require.Equal(t, "laptops", cfg.Category)
	require.Equal(t, 7, cfg.MaxAttempts)
}

func TestIgnoreConfigSkipsFile(t *testing.T) {
	isolateConfigRoot(t)

	path, err := InitDefaultConfig()
	require.NoError(t, err)

	saved := DefaultConfig()
	saved.Output = "/data/manuals"
	require.NoError(t, SaveYAML(saved, path))

	cfg, src, err := LoadMerged(Options{IgnoreConfig: true})
	require.NoError(t, err)
	require.Equal(t, "(ignored config)", src)
	require.Equal(t, ".", cfg.Output)
}

func TestInitListSwitchRemove(t *testing.T) {
	isolateConfigRoot(t)

	_, err := InitDefaultConfig()
	require.NoError(t, err)

	// init is idempotent but reports the existing file
	_, err = InitDefaultConfig()
	require.ErrorIs(t, err, os.ErrExist)

	_, err = CreateEmptyConfig("slow-profile")
	require.NoError(t, err)

	infos, err := ListConfigs()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "Default", infos[0].Label)
	require.True(t, infos[0].Active)
	require.Equal(t, "slow-profile", infos[1].Label)

	require.NoError(t, SwitchConfig("slow-profile"))
	label, err := CurrentLabel()
	require.NoError(t, err)
	require.Equal(t, "slow-profile", label)

	require.Error(t, SwitchConfig("nope"))

	require.NoError(t, RemoveConfig("slow-profile", false))
	label, err = CurrentLabel()
	require.NoError(t, err)
	require.Equal(t, "Default", label)

	require.Error(t, RemoveConfig("Default", true))
}

func TestRenameConfigFollowsActive(t *testing.T) {
	isolateConfigRoot(t)

	_, err := InitDefaultConfig()
	require.NoError(t, err)
	_, err = CreateEmptyConfig("old")
	require.NoError(t, err)
	require.NoError(t, SwitchConfig("old"))

	require.NoError(t, RenameConfig("old", "new"))

	label, err := CurrentLabel()
	require.NoError(t, err)
	require.Equal(t, "new", label)
}
