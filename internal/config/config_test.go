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
	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Graph.Backend)
	assert.Equal(t, "cp_v2_global_gallery_mesh", cfg.Graph.PostsSoul)
	assert.Equal(t, "cp_v2_global_user_mesh", cfg.Graph.UsersSoul)
	assert.Equal(t, 30*time.Second, cfg.Presence.Window)
	assert.Equal(t, 10*time.Second, cfg.Presence.Heartbeat)
	assert.Equal(t, 4096, cfg.Voice.FrameSize)
	assert.True(t, cfg.AI.SoftFailures)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
graph:
  backend: jetstream
presence:
  window: 45s
ai:
  soft_failures: false
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	t.Setenv("PULSE_PRESENCE_WINDOW", "60s")
	t.Setenv("PULSE_GRAPH_BADGER_PATH", "/tmp/graph")
	t.Setenv("PULSE_SERVER_TAILNET_ENABLED", "true")
	t.Setenv("PULSE_SERVER_CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, "jetstream", cfg.Graph.Backend)
	assert.False(t, cfg.AI.SoftFailures)
	assert.Equal(t, 60*time.Second, cfg.Presence.Window, "env overrides file")
	assert.Equal(t, "/tmp/graph", cfg.BadgerDir())
	assert.True(t, cfg.Server.Tailnet.Enabled)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
}

func TestAPIKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k-123")
	cfg, err := load("")
	require.NoError(t, err)
	assert.Equal(t, "k-123", cfg.AI.APIKey)
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "graph.badger_path", envTransformFunc("PULSE_GRAPH_BADGER_PATH"))
	assert.Equal(t, "server.tailnet.state_dir", envTransformFunc("PULSE_SERVER_TAILNET_STATE_DIR"))
	assert.Equal(t, "ai.soft_failures", envTransformFunc("PULSE_AI_SOFT_FAILURES"))
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Graph.Backend = "neo"
	cfg.Presence.Heartbeat = time.Minute
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graph.backend")
	assert.Contains(t, err.Error(), "presence.heartbeat")
}
