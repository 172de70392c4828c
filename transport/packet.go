package transport

import (
	"errors"
	"fmt"
)

// PacketType identifies the type of a Tox lossy packet.
type PacketType byte

const (
	// PacketAVAudioFrame carries one RTP fragment of an audio frame.
	PacketAVAudioFrame PacketType = 192

	// PacketAVVideoFrame carries one RTP fragment of a video frame.
	PacketAVVideoFrame PacketType = 193

	// PacketBWCReport carries a bandwidth controller loss report.
	PacketBWCReport PacketType = 196
)

// String returns a human-readable packet type name.
func (pt PacketType) String() string {
	switch pt {
	case PacketAVAudioFrame:
		return "av_audio_frame"
	case PacketAVVideoFrame:
		return "av_video_frame"
	case PacketBWCReport:
		return "bwc_report"
	default:
		return fmt.Sprintf("unknown(%d)", byte(pt))
	}
}

// Packet represents a Tox protocol packet.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	// Format: [packet type (1 byte)][data (variable length)]
	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
// The returned packet owns a copy of the data.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.New("packet too short")
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}

	copy(packet.Data, data[1:])

	return packet, nil
}
