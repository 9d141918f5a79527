package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/funk"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	p, err := cfg.policy()
	require.NoError(t, err)
	assert.Equal(t, funk.RootFrozenWithChildren, p)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  tag: 42\n  policy: during-publish\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cfg.Store.Tag)
	assert.Equal(t, DefaultConfig().Workspace, cfg.Workspace)

	p, err := cfg.policy()
	require.NoError(t, err)
	assert.Equal(t, funk.RootFrozenDuringPublish, p)
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [1, 2"), 0o600))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "parsing config")
}

func TestConfig_ValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace.Path = ""
	cfg.Store.Policy = "sometimes"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "workspace.path")
	assert.ErrorContains(t, err, "store.policy")
	assert.ErrorContains(t, err, "log.level")
}

func TestConfig_Logger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	var buf bytes.Buffer
	cfg.logger(&buf).Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}
