package rtp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	require.NoError(t, config.Validate())
	assert.Equal(t, 1371, config.MTU)
	assert.Equal(t, 3, config.WorkBufferSlots)
	assert.Equal(t, 15*time.Millisecond, config.KeyFrameRetention)
	assert.Equal(t, 10, config.DismissLossCount)
	assert.Equal(t, 4*1024*1024, config.MaxMessageLength)
	assert.Equal(t, 950*time.Millisecond, config.Bandwidth.SendInterval)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"MTU equal to header", func(c *Config) { c.MTU = HeaderSize }},
		{"MTU above lossy packet limit", func(c *Config) { c.MTU = 1372 }},
		{"No slots", func(c *Config) { c.WorkBufferSlots = 0 }},
		{"Negative retention", func(c *Config) { c.KeyFrameRetention = -time.Millisecond }},
		{"Negative dismiss count", func(c *Config) { c.DismissLossCount = -1 }},
		{"Message limit too large", func(c *Config) { c.MaxMessageLength = 5 * 1024 * 1024 }},
		{"Bad bandwidth interval", func(c *Config) { c.Bandwidth.SendInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			assert.ErrorIs(t, config.Validate(), ErrInvalidConfig)
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("Empty document keeps defaults", func(t *testing.T) {
		config, err := ParseConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), config)
	})

	t.Run("Partial override", func(t *testing.T) {
		config, err := ParseConfig([]byte(`
mtu: 1200
key_frame_retention: 40ms
bandwidth:
  send_interval: 500ms
`))
		require.NoError(t, err)

		want := DefaultConfig()
		want.MTU = 1200
		want.KeyFrameRetention = 40 * time.Millisecond
		want.Bandwidth.SendInterval = 500 * time.Millisecond
		assert.Equal(t, want, config)
	})

	t.Run("Unknown key", func(t *testing.T) {
		_, err := ParseConfig([]byte("mtus: 1200\n"))
		assert.Error(t, err)
	})

	t.Run("Invalid value", func(t *testing.T) {
		_, err := ParseConfig([]byte("work_buffer_slots: 0\n"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("Malformed YAML", func(t *testing.T) {
		_, err := ParseConfig([]byte("mtu: [\n"))
		assert.Error(t, err)
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("work_buffer_slots: 5\n"), 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, config.WorkBufferSlots)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
