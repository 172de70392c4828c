package rtp

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
)

const (
	// HeaderSize is the encoded size of Header.
	HeaderSize = 40

	// RTPVersion is the only protocol version accepted on the wire.
	RTPVersion = 2

	// fixedHeaderSize is the RFC 3550 part written by pion/rtp.
	fixedHeaderSize = 12

	maxPayloadType = 0x7F
)

// Header flags.
const (
	// FlagLargeFrame selects the 32-bit extended framing fields.
	FlagLargeFrame uint64 = 1 << 0

	// FlagKeyFrame marks a video key frame.
	FlagKeyFrame uint64 = 1 << 1
)

// Header is the RTP header of one ToxAV fragment.
//
// Wire layout, all fields big-endian:
//
//	 0-11  RFC 3550 fixed header (V=2, P=0, X=0, CC=0, M, PT, seq, ts, ssrc)
//	12-19  flags
//	20-23  offset_full
//	24-27  data_length_full
//	28-31  received_length_full
//	32-33  offset_lower
//	34-35  data_length_lower
//	36-39  reserved
//
// Senders fill both offset/length pairs; receivers use the pair selected by
// FlagLargeFrame.
type Header struct {
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Flags          uint64

	OffsetFull         uint32
	LengthFull         uint32
	ReceivedLengthFull uint32

	OffsetLower uint16
	LengthLower uint16
}

// IsLargeFrame reports whether the header uses extended framing.
func (h *Header) IsLargeFrame() bool { return h.Flags&FlagLargeFrame != 0 }

// IsKeyFrame reports whether the fragment belongs to a key frame.
func (h *Header) IsKeyFrame() bool { return h.Flags&FlagKeyFrame != 0 }

// Offset returns the fragment offset in the framing mode of the header.
func (h *Header) Offset() uint32 {
	if h.IsLargeFrame() {
		return h.OffsetFull
	}
	return uint32(h.OffsetLower)
}

// Length returns the declared message length in the framing mode of the header.
func (h *Header) Length() uint32 {
	if h.IsLargeFrame() {
		return h.LengthFull
	}
	return uint32(h.LengthLower)
}

// Validate checks the header invariants: a 7-bit payload type and an offset
// below the declared length. The empty message (offset 0, length 0) is valid.
func (h *Header) Validate() error {
	if h.PayloadType > maxPayloadType {
		return fmt.Errorf("%w: payload type %d exceeds 7 bits", ErrMalformedHeader, h.PayloadType)
	}

	offset, length := h.Offset(), h.Length()
	if offset >= length && (offset != 0 || length != 0) {
		return fmt.Errorf("%w: %w: offset %d not below length %d", ErrMalformedHeader, ErrOffsetOutOfBounds, offset, length)
	}

	return nil
}

// MarshalTo encodes the header into buf, which must hold HeaderSize bytes.
func (h *Header) MarshalTo(buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, fmt.Errorf("buffer too small for RTP header: %d < %d", len(buf), HeaderSize)
	}
	if err := h.Validate(); err != nil {
		return 0, err
	}

	fixed := rtp.Header{
		Version:        RTPVersion,
		Marker:         h.Marker,
		PayloadType:    h.PayloadType,
		SequenceNumber: h.SequenceNumber,
		Timestamp:      h.Timestamp,
		SSRC:           h.SSRC,
	}
	if _, err := fixed.MarshalTo(buf[:fixedHeaderSize]); err != nil {
		return 0, fmt.Errorf("failed to marshal fixed RTP header: %w", err)
	}

	binary.BigEndian.PutUint64(buf[12:20], h.Flags)
	binary.BigEndian.PutUint32(buf[20:24], h.OffsetFull)
	binary.BigEndian.PutUint32(buf[24:28], h.LengthFull)
	binary.BigEndian.PutUint32(buf[28:32], h.ReceivedLengthFull)
	binary.BigEndian.PutUint16(buf[32:34], h.OffsetLower)
	binary.BigEndian.PutUint16(buf[34:36], h.LengthLower)
	clear(buf[36:HeaderSize])

	return HeaderSize, nil
}

// Marshal encodes the header into a new HeaderSize byte slice.
func (h *Header) Marshal() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	if _, err := h.MarshalTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Unmarshal decodes the first HeaderSize bytes of buf into h.
// It never reads past buf and leaves h untouched on error.
func (h *Header) Unmarshal(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: %d bytes, need %d", ErrMalformedHeader, len(buf), HeaderSize)
	}

	var fixed rtp.Header
	n, err := fixed.Unmarshal(buf[:HeaderSize])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedHeader, err)
	}
	if fixed.Version != RTPVersion {
		return fmt.Errorf("%w: version %d", ErrMalformedHeader, fixed.Version)
	}
	if n != fixedHeaderSize || fixed.Padding || fixed.Extension || len(fixed.CSRC) != 0 {
		return fmt.Errorf("%w: unexpected padding, extension or CSRC", ErrMalformedHeader)
	}

	decoded := Header{
		Marker:             fixed.Marker,
		PayloadType:        fixed.PayloadType,
		SequenceNumber:     fixed.SequenceNumber,
		Timestamp:          fixed.Timestamp,
		SSRC:               fixed.SSRC,
		Flags:              binary.BigEndian.Uint64(buf[12:20]),
		OffsetFull:         binary.BigEndian.Uint32(buf[20:24]),
		LengthFull:         binary.BigEndian.Uint32(buf[24:28]),
		ReceivedLengthFull: binary.BigEndian.Uint32(buf[28:32]),
		OffsetLower:        binary.BigEndian.Uint16(buf[32:34]),
		LengthLower:        binary.BigEndian.Uint16(buf[34:36]),
	}
	if err := decoded.Validate(); err != nil {
		return err
	}

	*h = decoded
	return nil
}

// ParseHeader decodes a header from the start of buf.
func ParseHeader(buf []byte) (*Header, error) {
	h := &Header{}
	if err := h.Unmarshal(buf); err != nil {
		return nil, err
	}
	return h, nil
}
