// Package limits provides centralized size limits for the ToxAV RTP transport.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPlaintextMessage is the Tox limit for one lossy packet (1372 bytes),
	// packet type byte included.
	MaxPlaintextMessage = 1372

	// PacketTypeSize is the size of the transport packet type discriminator.
	PacketTypeSize = 1

	// DefaultAVMTU is the largest RTP packet (header + payload) that fits into
	// one lossy Tox packet.
	DefaultAVMTU = MaxPlaintextMessage - PacketTypeSize

	// MaxLegacyFrame is the largest message expressible with 16-bit framing.
	MaxLegacyFrame = 0xFFFF

	// MaxAVFrame bounds a single video frame (4 MiB).
	MaxAVFrame = 4 * 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty packet was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Empty messages are accepted; AV frames may legitimately be zero length.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidatePacket validates a raw packet against the given MTU.
// Returns ErrMessageEmpty for empty input.
func ValidatePacket(packet []byte, mtu int) error {
	if len(packet) == 0 {
		return ErrMessageEmpty
	}
	if len(packet) > mtu {
		return fmt.Errorf("%w: packet size %d exceeds MTU %d", ErrMessageTooLarge, len(packet), mtu)
	}
	return nil
}
