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
	t.Setenv("NODE_ID", "phone-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "phone-1", cfg.Node.ID)
	assert.Equal(t, []string{"voice_transcription"}, cfg.Node.Capabilities)
	assert.True(t, cfg.Node.Nearby)
	assert.Equal(t, "helga", cfg.MQTT.TopicPrefix)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, AudioSourceStdin, cfg.Audio.Source)
	assert.Equal(t, 15600, cfg.Audio.WindowSamples)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, time.Millisecond, cfg.Sampling.FirstDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Sampling.Interval)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 0.3, cfg.Filter.Threshold)
	assert.Len(t, cfg.Filter.Vocabulary, 13)
}

func TestLoad_GeneratesNodeID(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.Node.ID, "helga-host-")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUDIO_SOURCE", "remote")
	t.Setenv("SAMPLE_INTERVAL_MS", "250")
	t.Setenv("SCORE_THRESHOLD", "0.5")
	t.Setenv("MQTT_QOS", "0")
	t.Setenv("NODE_NEARBY", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, AudioSourceRemote, cfg.Audio.Source)
	assert.Equal(t, 250*time.Millisecond, cfg.Sampling.Interval)
	assert.Equal(t, 0.5, cfg.Filter.Threshold)
	assert.Equal(t, byte(0), cfg.MQTT.QoS)
	assert.False(t, cfg.Node.Nearby)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("AUDIO_SOURCE", "file")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("AUDIO_SOURCE", "microphone")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadVocabulary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vocabulary:\n  - doorbell\n  - smoke alarm\n"), 0o600))

	vocab, err := LoadVocabulary(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"doorbell", "smoke alarm"}, vocab)

	t.Setenv("VOCABULARY_FILE", path)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, vocab, cfg.Filter.Vocabulary)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("vocabulary: []\n"), 0o600))
	_, err = LoadVocabulary(empty)
	assert.Error(t, err)

	_, err = LoadVocabulary(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
