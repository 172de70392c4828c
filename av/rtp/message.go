package rtp

import (
	"fmt"

	"github.com/opd-ai/toxrtp/transport"
)

// MediaType selects the stream a session carries. It fixes the payload type,
// the transport packet type, the framing mode and the reassembly strategy.
type MediaType uint8

const (
	// MediaAudio uses legacy 16-bit framing and single-message reassembly.
	MediaAudio MediaType = iota
	// MediaVideo uses extended framing and the ordered work buffer.
	MediaVideo
)

// RTP payload types used by ToxAV (packet type modulo 128).
const (
	PayloadTypeAudio uint8 = uint8(transport.PacketAVAudioFrame) % 128
	PayloadTypeVideo uint8 = uint8(transport.PacketAVVideoFrame) % 128
)

// String returns the media type name.
func (m MediaType) String() string {
	switch m {
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Valid reports whether m is a known media type.
func (m MediaType) Valid() bool { return m == MediaAudio || m == MediaVideo }

// PayloadType returns the RTP payload type carried in headers.
func (m MediaType) PayloadType() uint8 {
	if m == MediaVideo {
		return PayloadTypeVideo
	}
	return PayloadTypeAudio
}

// PacketType returns the transport packet type for this media.
func (m MediaType) PacketType() transport.PacketType {
	if m == MediaVideo {
		return transport.PacketAVVideoFrame
	}
	return transport.PacketAVAudioFrame
}

// Message is a reassembled frame handed to the MessageHandler.
//
// Data always has the declared length. A message flushed before all of its
// fragments arrived has Complete() == false; the missing ranges are zero.
type Message struct {
	// Header is the header of the message's first received fragment with the
	// offsets cleared, LengthFull set to the declared length and
	// ReceivedLengthFull set to the number of bytes actually received.
	Header Header
	Data   []byte
}

// SequenceNumber returns the sender's message sequence number.
func (m *Message) SequenceNumber() uint16 { return m.Header.SequenceNumber }

// IsKeyFrame reports whether the message is a video key frame.
func (m *Message) IsKeyFrame() bool { return m.Header.IsKeyFrame() }

// Length returns the declared message length.
func (m *Message) Length() uint32 { return m.Header.LengthFull }

// ReceivedLength returns how many bytes of the message were received.
func (m *Message) ReceivedLength() uint32 { return m.Header.ReceivedLengthFull }

// Complete reports whether every byte of the message was received.
func (m *Message) Complete() bool { return m.Header.ReceivedLengthFull == m.Header.LengthFull }

// MessageHandler receives reassembled messages in delivery order.
// It is invoked synchronously and must not block.
type MessageHandler func(friendNumber uint32, msg *Message)

// BandwidthController receives the byte counters of a receiving session.
type BandwidthController interface {
	// AddRecv is called with the size of every accepted fragment.
	AddRecv(bytes uint32)
	// AddLost is called with every detected-lost byte count.
	AddLost(bytes uint32)
	// FeedAvg is called with the size of every received packet.
	FeedAvg(packetLen uint32)
}
