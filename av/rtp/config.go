package rtp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opd-ai/toxrtp/av/bwc"
	"github.com/opd-ai/toxrtp/limits"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables of RTP sessions.
//
// The defaults match the reference ToxAV behaviour; none of them is part of
// the wire format, so peers may use different values.
type Config struct {
	// MTU is the largest RTP packet, header included (default: 1371).
	MTU int `yaml:"mtu"`

	// WorkBufferSlots is the number of concurrently reassembled video
	// messages (default: 3).
	WorkBufferSlots int `yaml:"work_buffer_slots"`

	// KeyFrameRetention protects a key frame in the oldest slot from
	// eviction for this long after its first fragment arrived (default: 15ms).
	KeyFrameRetention time.Duration `yaml:"key_frame_retention"`

	// DismissLossCount is the number of early video loss events that are
	// counted but not reported to the bandwidth controller (default: 10).
	DismissLossCount int `yaml:"dismiss_loss_count"`

	// MaxMessageLength bounds sent frames and the receive buffers allocated
	// for announced frames (default: 4 MiB).
	MaxMessageLength int `yaml:"max_message_length"`

	// Bandwidth configures the per-friend bandwidth controller.
	Bandwidth bwc.Config `yaml:"bandwidth"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		MTU:               limits.DefaultAVMTU,
		WorkBufferSlots:   3,
		KeyFrameRetention: 15 * time.Millisecond,
		DismissLossCount:  10,
		MaxMessageLength:  limits.MaxAVFrame,
		Bandwidth:         bwc.DefaultConfig(),
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	if c.MTU <= HeaderSize || c.MTU > limits.DefaultAVMTU {
		return fmt.Errorf("%w: MTU %d must be in (%d, %d]", ErrInvalidConfig, c.MTU, HeaderSize, limits.DefaultAVMTU)
	}
	if c.WorkBufferSlots < 1 {
		return fmt.Errorf("%w: need at least one work buffer slot", ErrInvalidConfig)
	}
	if c.KeyFrameRetention < 0 {
		return fmt.Errorf("%w: negative key frame retention", ErrInvalidConfig)
	}
	if c.DismissLossCount < 0 {
		return fmt.Errorf("%w: negative dismiss loss count", ErrInvalidConfig)
	}
	if c.MaxMessageLength < 0 || c.MaxMessageLength > limits.MaxAVFrame {
		return fmt.Errorf("%w: max message length %d must be in [0, %d]", ErrInvalidConfig, c.MaxMessageLength, limits.MaxAVFrame)
	}
	if err := c.Bandwidth.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ParseConfig decodes a YAML document over DefaultConfig. Keys that are not
// present keep their default; unknown keys are rejected. Durations use Go
// syntax ("15ms", "2s").
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse RTP config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read RTP config %s: %w", path, err)
	}
	return ParseConfig(data)
}
