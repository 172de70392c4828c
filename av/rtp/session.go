package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/toxrtp/limits"
	"github.com/opd-ai/toxrtp/transport"
	"github.com/sirupsen/logrus"
)

// Statistics holds the counters of one RTP session.
type Statistics struct {
	PacketsSent      uint64
	PacketsReceived  uint64
	PacketsAccepted  uint64
	PacketsLost      uint64 // sequence distance of late legacy fragments
	PacketsLate      uint64
	PacketsMalformed uint64
	PacketsDropped   uint64 // type mismatch, oversized or refused by the work buffer
	SendFailures     uint64

	MessagesSent      uint64
	MessagesDelivered uint64
	MessagesPartial   uint64

	BytesLost           uint64 // reported to the bandwidth controller
	LossEventsDismissed uint64
	SSRCChanges         uint64
}

// SessionOption customizes a Session at construction.
type SessionOption func(*Session)

// WithConfig replaces DefaultConfig.
func WithConfig(config Config) SessionOption {
	return func(s *Session) { s.config = config }
}

// WithTimeProvider injects a clock for deterministic testing.
func WithTimeProvider(tp TimeProvider) SessionOption {
	return func(s *Session) {
		if tp != nil {
			s.timeProvider = tp
		}
	}
}

// WithSSRC fixes the sending SSRC instead of drawing a random one.
func WithSSRC(ssrc uint32) SessionOption {
	return func(s *Session) {
		s.ssrc = ssrc
		s.hasSSRC = true
	}
}

// WithBandwidthController sets the receive statistics collaborator.
func WithBandwidthController(bc BandwidthController) SessionOption {
	return func(s *Session) { s.bwc = bc }
}

// WithMessageHandler sets the delivery callback.
func WithMessageHandler(handler MessageHandler) SessionOption {
	return func(s *Session) { s.handler = handler }
}

// Session is the RTP state of one media stream with one friend.
//
// Sending splits frames into MTU-sized fragments; receiving reassembles them
// with the strategy of the media type: a single in-flight message for audio,
// the ordered work buffer for video. Reassembly never self-schedules; all
// state changes happen inside SendFrame and ReceivePacket.
//
// A Session is safe for concurrent use. The message handler and the
// bandwidth controller are called without the session lock held.
type Session struct {
	mu           sync.Mutex
	sendMu       sync.Mutex // keeps the fragments of concurrent sends apart
	id           uuid.UUID
	friendNumber uint32
	media        MediaType
	config       Config
	created      time.Time

	transport    transport.Transport
	remoteAddr   net.Addr
	timeProvider TimeProvider
	bwc          BandwidthController
	handler      MessageHandler

	// send side
	ssrc           uint32
	hasSSRC        bool
	sequenceNumber uint16
	lastTimestamp  uint32

	// receive side
	watermark        watermark
	receiver         reassembler
	remoteSSRC       uint32
	hasRemoteSSRC    bool
	dismissRemaining int

	closed bool
	stats  Statistics
}

// NewSession creates an RTP session for one media stream with a friend.
//
// Parameters:
//   - friendNumber: The friend number for this session
//   - media: MediaAudio or MediaVideo
//   - tr: Tox transport for packet transmission
//   - remoteAddr: Remote peer address for packet transmission
//
// Returns:
//   - *Session: The new RTP session
//   - error: Any error that occurred during setup
func NewSession(friendNumber uint32, media MediaType, tr transport.Transport, remoteAddr net.Addr, opts ...SessionOption) (*Session, error) {
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if remoteAddr == nil {
		return nil, fmt.Errorf("remote address cannot be nil")
	}
	if !media.Valid() {
		return nil, fmt.Errorf("unsupported media type %s", media)
	}

	s := &Session{
		id:           uuid.New(),
		friendNumber: friendNumber,
		media:        media,
		config:       DefaultConfig(),
		transport:    tr,
		remoteAddr:   remoteAddr,
		timeProvider: DefaultTimeProvider{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	if !s.hasSSRC {
		ssrc, err := randomSSRC()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewSession",
				"error":    err.Error(),
			}).Error("Failed to generate SSRC")
			return nil, err
		}
		s.ssrc = ssrc
	}

	s.created = s.timeProvider.Now()
	if media == MediaVideo {
		s.receiver = newWorkBuffer(s.config.WorkBufferSlots, s.config.KeyFrameRetention, s.timeProvider, &s.watermark)
		s.dismissRemaining = s.config.DismissLossCount
	} else {
		s.receiver = newLegacyAssembler(&s.watermark)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewSession",
		"session_id":    s.id.String(),
		"friend_number": friendNumber,
		"media":         media.String(),
		"ssrc":          s.ssrc,
		"mtu":           s.config.MTU,
	}).Info("RTP session created")

	return s, nil
}

// randomSSRC draws a random non-zero synchronization source.
func randomSSRC() (uint32, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("failed to generate SSRC: %w", err)
		}
		if ssrc := binary.BigEndian.Uint32(b[:]); ssrc != 0 {
			return ssrc, nil
		}
	}
}

// ID returns the session identifier used in log output.
func (s *Session) ID() uuid.UUID { return s.id }

// FriendNumber returns the friend this session belongs to.
func (s *Session) FriendNumber() uint32 { return s.friendNumber }

// Media returns the media type of the session.
func (s *Session) Media() MediaType { return s.media }

// SSRC returns the sending synchronization source.
func (s *Session) SSRC() uint32 { return s.ssrc }

// SetMessageHandler replaces the delivery callback.
func (s *Session) SetMessageHandler(handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = handler
}

// SetBandwidthController replaces the bandwidth controller.
func (s *Session) SetBandwidthController(bc BandwidthController) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bwc = bc
}

// maxMessageLength returns the largest message the session's framing allows.
func (s *Session) maxMessageLength() uint32 {
	limit := s.config.MaxMessageLength
	if s.media == MediaAudio && limit > limits.MaxLegacyFrame {
		limit = limits.MaxLegacyFrame
	}
	return uint32(limit)
}

// ReceivePacket processes one incoming RTP packet (transport type byte
// already stripped). Completed or flushed messages are handed to the message
// handler before ReceivePacket returns.
//
// A returned error describes why the fragment was dropped; the session stays
// usable.
func (s *Session) ReceivePacket(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	s.stats.PacketsReceived++
	var rx receiveResult
	err := s.receiveLocked(data, &rx)
	lost := s.accountLocked(&rx, err)
	bc, handler := s.bwc, s.handler
	s.mu.Unlock()

	if bc != nil {
		bc.FeedAvg(uint32(len(data)))
		if rx.accepted {
			bc.AddRecv(uint32(len(data)))
		}
		if lost > 0 {
			bc.AddLost(lost)
		}
	}

	if handler != nil {
		for _, msg := range rx.delivered {
			handler(s.friendNumber, msg)
		}
	}

	return err
}

// receiveLocked decodes and routes one packet.
func (s *Session) receiveLocked(data []byte, rx *receiveResult) error {
	h, err := ParseHeader(data)
	if err != nil {
		return err
	}

	if h.PayloadType != s.media.PayloadType() {
		return fmt.Errorf("%w: got %d, session expects %d", ErrPayloadTypeMismatch, h.PayloadType, s.media.PayloadType())
	}
	if h.Length() > s.maxMessageLength() {
		return fmt.Errorf("%w: announced %d bytes, limit %d", ErrMessageTooLarge, h.Length(), s.maxMessageLength())
	}

	if !s.hasRemoteSSRC {
		s.remoteSSRC = h.SSRC
		s.hasRemoteSSRC = true
	} else if h.SSRC != s.remoteSSRC {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.ReceivePacket",
			"session_id": s.id.String(),
			"old_ssrc":   s.remoteSSRC,
			"new_ssrc":   h.SSRC,
			"discarded":  s.receiver.pending(),
		}).Info("Remote SSRC changed, resetting receive state")
		s.receiver.reset()
		s.watermark.reset()
		s.remoteSSRC = h.SSRC
		s.stats.SSRCChanges++
	}

	return s.receiver.handleFragment(h, data[HeaderSize:], rx)
}

// accountLocked updates statistics for one received packet and returns the
// number of lost bytes to report.
func (s *Session) accountLocked(rx *receiveResult, err error) uint32 {
	if err != nil {
		s.classifyDropLocked(err)
	}
	if rx.accepted {
		s.stats.PacketsAccepted++
	}
	s.stats.PacketsLost += uint64(rx.lostPackets)

	for _, msg := range rx.delivered {
		s.stats.MessagesDelivered++
		if !msg.Complete() {
			s.stats.MessagesPartial++
		}
	}

	var lost uint32
	for _, n := range rx.lossEvents {
		if s.dismissRemaining > 0 {
			s.dismissRemaining--
			s.stats.LossEventsDismissed++
			continue
		}
		lost += n
	}
	s.stats.BytesLost += uint64(lost)

	return lost
}

// classifyDropLocked counts and logs a dropped packet.
func (s *Session) classifyDropLocked(err error) {
	fields := logrus.Fields{
		"function":   "Session.ReceivePacket",
		"session_id": s.id.String(),
		"media":      s.media.String(),
		"error":      err.Error(),
	}

	switch {
	case errors.Is(err, ErrLateFragment), errors.Is(err, ErrLateMessage):
		s.stats.PacketsLate++
		logrus.WithFields(fields).Debug("Dropped late fragment")
	case errors.Is(err, ErrMalformedHeader), errors.Is(err, ErrOffsetOutOfBounds):
		s.stats.PacketsMalformed++
		logrus.WithFields(fields).Warn("Dropped malformed fragment")
	default:
		s.stats.PacketsDropped++
		logrus.WithFields(fields).Debug("Dropped fragment")
	}
}

// Statistics returns current session statistics.
func (s *Session) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

// Pending returns the number of messages currently being reassembled.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.receiver.pending()
}

// Close ends the session. Messages still being reassembled are discarded,
// not delivered.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	discarded := s.receiver.pending()
	s.receiver.reset()
	s.closed = true

	logrus.WithFields(logrus.Fields{
		"function":      "Session.Close",
		"session_id":    s.id.String(),
		"friend_number": s.friendNumber,
		"discarded":     discarded,
	}).Info("RTP session closed")

	return nil
}
