package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 16000, cfg.Transcription.SampleRate)
	assert.True(t, cfg.Transcription.FormatTurns)
	assert.Equal(t, 800, cfg.Audio.FrameSamples)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
[server]
port = 9090

[transcription]
connect_timeout_secs = 5

[logging]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Transcription.ConnectTimeoutSecs)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 16000, cfg.Transcription.SampleRate)
}

func TestLoadEnvOverridesAPIKeys(t *testing.T) {
	t.Setenv("ASSEMBLYAI_API_KEY", "aai-test-key")
	t.Setenv("OPENAI_API_KEY", "oai-test-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "aai-test-key", cfg.Transcription.APIKey)
	assert.Equal(t, "oai-test-key", cfg.Chat.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Transcription.SampleRate = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Audio.FrameSamples = 0
	assert.Error(t, cfg.Validate())
}
