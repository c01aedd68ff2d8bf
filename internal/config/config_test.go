package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultPort, cfg.DebuggerPort)
	assert.Zero(t, cfg.DebuggerWaitTime)
}

func TestLoad_ParsesKnownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debugger.cfg")
	contents := "# comment\nDebuggerPort=9000\nDebuggerWaitTime=1.5\n\nUnknownKey=ignored\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.DebuggerPort)
	assert.Equal(t, 1500*time.Millisecond, cfg.DebuggerWaitTime)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cfg"))
	assert.Error(t, err)
}

func TestLoad_MissingKeysFallBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debugger.cfg")
	require.NoError(t, os.WriteFile(path, []byte("DebuggerPort=4242\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.DebuggerPort)
	assert.Zero(t, cfg.DebuggerWaitTime)
}

func TestLoad_MalformedValueIsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debugger.cfg")
	require.NoError(t, os.WriteFile(path, []byte("DebuggerPort=not-a-number\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.DebuggerPort)
}
