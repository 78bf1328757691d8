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
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_ENV", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 0, cfg.Port)
	assert.Equal(t, int64(16<<20), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Equal(t, "auth_info", cfg.AuthPath)
	assert.Equal(t, "drop", cfg.BackpressurePolicy)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
	assert.NotNil(t, cfg.Backend)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
ping_period: 10s
auth_path: /var/lib/bridge
backend:
  browser: bridge
`), 0o600))
	t.Setenv("BRIDGE_PORT", "7000")
	t.Setenv("BRIDGE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.PingPeriod)
	assert.Equal(t, "/var/lib/bridge", cfg.AuthPath)
	assert.Equal(t, map[string]any{"browser": "bridge"}, cfg.Backend)
}

func TestLoad_ConfigEnvSelectsFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.Mkdir("config", 0o700))
	require.NoError(t, os.WriteFile(filepath.Join("config", "config.test.yaml"), []byte("mode: debug\n"), 0o600))
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
