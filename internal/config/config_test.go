package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolvedStateDir_UsesConfiguredValue(t *testing.T) {
	cfg := Config{StateDir: " /tmp/custom-dir "}
	require.Equal(t, "/tmp/custom-dir", cfg.ResolvedStateDir())
}

func TestResolvedStateDir_DefaultsUnderHome(t *testing.T) {
	var cfg Config
	dir := cfg.ResolvedStateDir()
	require.Equal(t, ".liveview", filepath.Base(dir))
}

func TestApplyEnvOverrides_Durations(t *testing.T) {
	t.Setenv("LIVEVIEW_RECONNECT_DELAY", "5s")
	t.Setenv("LIVEVIEW_PROBE_INTERVAL", "1m")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnvOverrides())
	require.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	require.Equal(t, time.Minute, cfg.ProbeInterval)
}

func TestApplyEnvOverrides_InvalidDuration(t *testing.T) {
	t.Setenv("LIVEVIEW_RECONNECT_DELAY", "soon")

	cfg := DefaultConfig()
	require.ErrorContains(t, cfg.ApplyEnvOverrides(), "LIVEVIEW_RECONNECT_DELAY")
}

func TestApplyEnvOverrides_EmptyValuesKeepDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnvOverrides())
	require.Equal(t, DefaultConfig(), cfg)
}
