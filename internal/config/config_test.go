package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	cfg, vp, err := Load("")

	require.NoError(t, err)
	require.NotNil(t, vp)
	assert.Equal(t, "http://localhost:8000", cfg.Backend.Target)
	assert.True(t, cfg.Backend.UseChatEndpoint)
	assert.Equal(t, "synchronous", cfg.Profile.Strategy)
	assert.Equal(t, 100, cfg.RequestSource.Count)
	assert.Equal(t, "console", cfg.Report.Format)
}

func TestLoad_MissingConfigFileErrors(t *testing.T) {
	_, _, err := Load("/nonexistent/genbench.yaml")
	assert.Error(t, err)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genbench.yaml")
	contents := `
backend:
  target: http://example.test:9000
profile:
  strategy: async_constant
  rate: 12.5
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, _, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "http://example.test:9000", cfg.Backend.Target)
	assert.Equal(t, "async_constant", cfg.Profile.Strategy)
	assert.Equal(t, 12.5, cfg.Profile.Rate)
}

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  target: http://a.test\n"), 0o644))

	_, vp, err := Load(path)
	require.NoError(t, err)

	updates := make(chan *Config, 1)
	Watch(vp, func(c *Config) { updates <- c })

	require.NoError(t, os.WriteFile(path, []byte("backend:\n  target: http://b.test\n"), 0o644))

	select {
	case updated := <-updates:
		assert.Equal(t, "http://b.test", updated.Backend.Target)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload callback")
	}
}
