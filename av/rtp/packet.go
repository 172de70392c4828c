package rtp

import (
	"errors"
	"fmt"
	"math"

	"github.com/opd-ai/toxrtp/limits"
	"github.com/opd-ai/toxrtp/transport"
	"github.com/sirupsen/logrus"
)

// SendAudioFrame sends one encoded audio frame.
func (s *Session) SendAudioFrame(payload []byte) error {
	if s.media != MediaAudio {
		return fmt.Errorf("%w: audio frame on %s session", ErrPayloadTypeMismatch, s.media)
	}
	return s.SendFrame(payload, false)
}

// SendVideoFrame sends one encoded video frame.
func (s *Session) SendVideoFrame(payload []byte, isKeyFrame bool) error {
	if s.media != MediaVideo {
		return fmt.Errorf("%w: video frame on %s session", ErrPayloadTypeMismatch, s.media)
	}
	return s.SendFrame(payload, isKeyFrame)
}

// SendFrame splits payload into MTU-sized fragments and sends each of them
// once. All fragments share one sequence number and timestamp; the last one
// carries the marker bit. Audio sessions ignore isKeyFrame.
//
// Every fragment is attempted even if an earlier one failed. The returned
// error then wraps ErrSendFailed and each transport error.
func (s *Session) SendFrame(payload []byte, isKeyFrame bool) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if err := limits.ValidateMessageSize(payload, int(s.maxMessageLength())); err != nil {
		s.mu.Unlock()
		return err
	}

	packets, err := s.fragmentLocked(payload, isKeyFrame)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	sequence := s.sequenceNumber
	s.sequenceNumber++
	tr, addr := s.transport, s.remoteAddr
	s.mu.Unlock()

	var errs []error
	for _, data := range packets {
		if err := tr.Send(&transport.Packet{PacketType: s.media.PacketType(), Data: data}, addr); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.stats.PacketsSent += uint64(len(packets) - len(errs))
	s.stats.SendFailures += uint64(len(errs))
	s.stats.MessagesSent++
	s.mu.Unlock()

	if len(errs) > 0 {
		logrus.WithFields(logrus.Fields{
			"function":        "Session.SendFrame",
			"session_id":      s.id.String(),
			"sequence_number": sequence,
			"fragments":       len(packets),
			"failed":          len(errs),
		}).Warn("Failed to send RTP fragments")
		return fmt.Errorf("%w: %d of %d fragments failed: %w", ErrSendFailed, len(errs), len(packets), errors.Join(errs...))
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Session.SendFrame",
		"session_id":      s.id.String(),
		"sequence_number": sequence,
		"fragments":       len(packets),
		"size":            len(payload),
	}).Debug("Sent RTP frame")

	return nil
}

// fragmentLocked encodes the fragments of the next message.
func (s *Session) fragmentLocked(payload []byte, isKeyFrame bool) ([][]byte, error) {
	chunk := s.config.MTU - HeaderSize
	length := uint32(len(payload))

	header := Header{
		PayloadType:    s.media.PayloadType(),
		SequenceNumber: s.sequenceNumber,
		Timestamp:      s.nextTimestampLocked(),
		SSRC:           s.ssrc,
		LengthFull:     length,
		LengthLower:    saturate16(length),
	}
	if s.media == MediaVideo {
		header.Flags |= FlagLargeFrame
		if isKeyFrame {
			header.Flags |= FlagKeyFrame
		}
	}

	packets := make([][]byte, 0, fragmentCount(len(payload), s.config.MTU))
	for offset := 0; offset < len(payload) || len(packets) == 0; offset += chunk {
		end := min(offset+chunk, len(payload))

		header.OffsetFull = uint32(offset)
		header.OffsetLower = saturate16(uint32(offset))
		header.Marker = end == len(payload)

		buf := make([]byte, HeaderSize+end-offset)
		if _, err := header.MarshalTo(buf); err != nil {
			return nil, err
		}
		copy(buf[HeaderSize:], payload[offset:end])
		packets = append(packets, buf)
	}

	return packets, nil
}

// nextTimestampLocked returns milliseconds since session creation, never
// going backwards.
func (s *Session) nextTimestampLocked() uint32 {
	ts := uint32(s.timeProvider.Since(s.created).Milliseconds())
	if ts < s.lastTimestamp {
		ts = s.lastTimestamp
	}
	s.lastTimestamp = ts
	return ts
}

// saturate16 clamps v to the legacy 16-bit framing fields.
func saturate16(v uint32) uint16 {
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

// fragmentCount returns how many packets a payload of n bytes needs at the
// given MTU.
func fragmentCount(n, mtu int) int {
	chunk := mtu - HeaderSize
	if n <= chunk {
		return 1
	}
	return (n + chunk - 1) / chunk
}
