package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JacobLinCool/cpta/internal/sandbox"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, used, err := Load("", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, "./.works", cfg.Root)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.StepTimeout)
	assert.Equal(t, "auto", cfg.Sandbox.Mode)
	assert.True(t, cfg.Ledger.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cpta.yaml"), []byte(`
root: /grading/hw1
concurrency: 4
step_timeout: 5s
sandbox:
  mode: docker
  memory: 512m
llm:
  provider: anthropic
`), 0644))
	t.Setenv("CPTA_CONCURRENCY", "8")
	t.Setenv("CPTA_SANDBOX_IMAGE", "gcc:13")

	cfg, used, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cpta.yaml"), used)
	assert.Equal(t, "/grading/hw1", cfg.Root)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.StepTimeout)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)

	sb := cfg.SandboxLimits()
	assert.Equal(t, sandbox.ModeDocker, sb.Mode)
	assert.Equal(t, "gcc:13", sb.Image)
	assert.Equal(t, "512m", sb.Memory)
	assert.Equal(t, int64(100000), sb.CPUPeriod)
}

func TestLoadRejects(t *testing.T) {
	chdir(t, t.TempDir())

	_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("CPTA_SANDBOX_MODE", "vm")
	_, _, err = Load("")
	assert.ErrorContains(t, err, "unknown sandbox mode")
}

func TestManagerSaveRoundTrip(t *testing.T) {
	chdir(t, t.TempDir())
	m := NewManagerAt(filepath.Join(t.TempDir(), "cpta"))
	assert.False(t, m.Exists())

	cfg := Default()
	cfg.Root = "/srv/works"
	cfg.LLM.APIKey = "sk-test"
	cfg.Watch.Quiet = 3 * time.Second
	require.NoError(t, m.Save(cfg))
	assert.True(t, m.Exists())

	info, err := os.Stat(m.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, used, err := m.Load("")
	require.NoError(t, err)
	assert.Equal(t, m.Path(), used)
	assert.Equal(t, cfg, loaded)
}
