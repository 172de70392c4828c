package rtp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/opd-ai/toxrtp/av/bwc"
	"github.com/opd-ai/toxrtp/transport"
	"github.com/sirupsen/logrus"
)

// friendState groups everything the integration keeps per friend. The audio
// and video sessions of a friend share one bandwidth controller.
type friendState struct {
	addr  net.Addr
	audio *Session
	video *Session
	bwc   *bwc.Controller
}

func (f *friendState) session(media MediaType) *Session {
	if media == MediaVideo {
		return f.video
	}
	return f.audio
}

func (f *friendState) setSession(media MediaType, s *Session) {
	if media == MediaVideo {
		f.video = s
	} else {
		f.audio = s
	}
}

func (f *friendState) empty() bool { return f.audio == nil && f.video == nil }

// TransportIntegration manages RTP sessions over a Tox transport.
//
// It registers the handlers for audio frames, video frames and bandwidth
// reports, and routes each incoming packet by its source address to the
// friend's session of the matching media type.
type TransportIntegration struct {
	mu           sync.RWMutex
	transport    transport.Transport
	config       Config
	timeProvider TimeProvider
	friends      map[uint32]*friendState // friendNumber -> state
	addrToFriend map[string]uint32       // address string -> friendNumber

	handler MessageHandler
	lossCb  bwc.LossCallback
}

// NewTransportIntegration creates a new RTP transport integration.
//
// Parameters:
//   - tr: The Tox transport to integrate with
//   - config: Settings for every session created through the integration
//
// Returns:
//   - *TransportIntegration: New integration instance
//   - error: Any error that occurred during setup
func NewTransportIntegration(tr transport.Transport, config Config) (*TransportIntegration, error) {
	return NewTransportIntegrationWithTimeProvider(tr, config, DefaultTimeProvider{})
}

// NewTransportIntegrationWithTimeProvider creates an integration whose
// sessions and bandwidth controllers use the given clock.
func NewTransportIntegrationWithTimeProvider(tr transport.Transport, config Config, tp TimeProvider) (*TransportIntegration, error) {
	if tr == nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewTransportIntegration",
			"error":    "transport cannot be nil",
		}).Error("Invalid transport")
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if tp == nil {
		tp = DefaultTimeProvider{}
	}

	ti := &TransportIntegration{
		transport:    tr,
		config:       config,
		timeProvider: tp,
		friends:      make(map[uint32]*friendState),
		addrToFriend: make(map[string]uint32),
	}

	ti.setupPacketHandlers()

	logrus.WithFields(logrus.Fields{
		"function": "NewTransportIntegration",
		"mtu":      config.MTU,
	}).Info("RTP transport integration created successfully")

	return ti, nil
}

// setupPacketHandlers registers the AV packet handlers with the transport.
func (ti *TransportIntegration) setupPacketHandlers() {
	ti.transport.RegisterHandler(transport.PacketAVAudioFrame, func(packet *transport.Packet, addr net.Addr) error {
		return ti.handleIncomingFrame(MediaAudio, packet, addr)
	})
	ti.transport.RegisterHandler(transport.PacketAVVideoFrame, func(packet *transport.Packet, addr net.Addr) error {
		return ti.handleIncomingFrame(MediaVideo, packet, addr)
	})
	ti.transport.RegisterHandler(transport.PacketBWCReport, ti.handleIncomingReport)
}

// SetMessageHandler sets the callback for messages of every session.
func (ti *TransportIntegration) SetMessageHandler(handler MessageHandler) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	ti.handler = handler
}

// SetLossCallback sets the callback for loss reports of every friend.
func (ti *TransportIntegration) SetLossCallback(cb bwc.LossCallback) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	ti.lossCb = cb
	for _, f := range ti.friends {
		f.bwc.SetLossCallback(cb)
	}
}

// dispatch forwards a session's message to the current handler.
func (ti *TransportIntegration) dispatch(friendNumber uint32, msg *Message) {
	ti.mu.RLock()
	handler := ti.handler
	ti.mu.RUnlock()

	if handler != nil {
		handler(friendNumber, msg)
	}
}

// CreateSession creates a new RTP session for a friend.
//
// A friend may have one audio and one video session, both bound to the same
// remote address.
//
// Parameters:
//   - friendNumber: The friend number to create a session for
//   - media: MediaAudio or MediaVideo
//   - remoteAddr: The remote address for this friend
//
// Returns:
//   - *Session: The created RTP session
//   - error: Any error that occurred during session creation
func (ti *TransportIntegration) CreateSession(friendNumber uint32, media MediaType, remoteAddr net.Addr) (*Session, error) {
	if remoteAddr == nil {
		return nil, fmt.Errorf("remote address cannot be nil")
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()

	f, exists := ti.friends[friendNumber]
	if exists {
		if f.session(media) != nil {
			return nil, fmt.Errorf("%w: friend %d %s", ErrSessionExists, friendNumber, media)
		}
		if f.addr.String() != remoteAddr.String() {
			return nil, fmt.Errorf("friend %d is bound to %s, not %s", friendNumber, f.addr, remoteAddr)
		}
	}
	if owner, bound := ti.addrToFriend[remoteAddr.String()]; bound && owner != friendNumber {
		return nil, fmt.Errorf("address %s is bound to friend %d", remoteAddr, owner)
	}

	if !exists {
		controller, err := bwc.NewControllerWithTimeProvider(friendNumber, ti.transport, remoteAddr, ti.config.Bandwidth, ti.timeProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create bandwidth controller: %w", err)
		}
		controller.SetLossCallback(ti.lossCb)
		f = &friendState{addr: remoteAddr, bwc: controller}
	}

	session, err := NewSession(friendNumber, media, ti.transport, remoteAddr,
		WithConfig(ti.config),
		WithTimeProvider(ti.timeProvider),
		WithBandwidthController(f.bwc),
		WithMessageHandler(ti.dispatch),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create RTP session: %w", err)
	}

	f.setSession(media, session)
	if !exists {
		ti.friends[friendNumber] = f
		ti.addrToFriend[remoteAddr.String()] = friendNumber

		logrus.WithFields(logrus.Fields{
			"function":      "CreateSession",
			"friend_number": friendNumber,
			"remote_addr":   remoteAddr.String(),
		}).Debug("Registered address-to-friend mapping")
	}

	return session, nil
}

// GetSession retrieves a friend's session of the given media type.
func (ti *TransportIntegration) GetSession(friendNumber uint32, media MediaType) (*Session, bool) {
	ti.mu.RLock()
	defer ti.mu.RUnlock()

	f, exists := ti.friends[friendNumber]
	if !exists || f.session(media) == nil {
		return nil, false
	}
	return f.session(media), true
}

// BandwidthController returns the controller shared by a friend's sessions.
func (ti *TransportIntegration) BandwidthController(friendNumber uint32) (*bwc.Controller, bool) {
	ti.mu.RLock()
	defer ti.mu.RUnlock()

	f, exists := ti.friends[friendNumber]
	if !exists {
		return nil, false
	}
	return f.bwc, true
}

// CloseSession closes and removes a friend's session of the given media type.
// The friend's address mapping is dropped with its last session.
func (ti *TransportIntegration) CloseSession(friendNumber uint32, media MediaType) error {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	f, exists := ti.friends[friendNumber]
	if !exists || f.session(media) == nil {
		return fmt.Errorf("%w: friend %d %s", ErrSessionNotFound, friendNumber, media)
	}

	err := f.session(media).Close()
	f.setSession(media, nil)
	if f.empty() {
		ti.removeFriendLocked(friendNumber, f)
	}

	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// CloseFriend closes every session of a friend.
func (ti *TransportIntegration) CloseFriend(friendNumber uint32) error {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	f, exists := ti.friends[friendNumber]
	if !exists {
		return fmt.Errorf("%w: friend %d", ErrSessionNotFound, friendNumber)
	}

	err := closeFriendSessions(friendNumber, f)
	ti.removeFriendLocked(friendNumber, f)
	return err
}

// closeFriendSessions closes the sessions of one friend and joins their errors.
func closeFriendSessions(friendNumber uint32, f *friendState) error {
	var errs []error
	for _, s := range []*Session{f.audio, f.video} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":      "CloseFriend",
				"friend_number": friendNumber,
				"media":         s.Media().String(),
				"error":         err.Error(),
			}).Error("Error closing session")
			errs = append(errs, err)
		}
	}
	f.audio, f.video = nil, nil
	return errors.Join(errs...)
}

func (ti *TransportIntegration) removeFriendLocked(friendNumber uint32, f *friendState) {
	addrKey := f.addr.String()
	delete(ti.addrToFriend, addrKey)
	delete(ti.friends, friendNumber)

	logrus.WithFields(logrus.Fields{
		"function":      "CloseSession",
		"friend_number": friendNumber,
		"remote_addr":   addrKey,
	}).Debug("Removed address-to-friend mapping")
}

// lookup resolves the friend state for a packet source address.
func (ti *TransportIntegration) lookup(addr net.Addr) (uint32, *friendState, error) {
	ti.mu.RLock()
	defer ti.mu.RUnlock()

	addrKey := addr.String()
	friendNumber, exists := ti.addrToFriend[addrKey]
	if !exists {
		return 0, nil, fmt.Errorf("%w: no friend for address %s", ErrSessionNotFound, addrKey)
	}
	f := ti.friends[friendNumber]
	return friendNumber, &friendState{addr: f.addr, audio: f.audio, video: f.video, bwc: f.bwc}, nil
}

// handleIncomingFrame routes an RTP packet to the friend's session. The
// session runs without the integration lock held, so handlers may close
// sessions.
func (ti *TransportIntegration) handleIncomingFrame(media MediaType, packet *transport.Packet, addr net.Addr) error {
	friendNumber, f, err := ti.lookup(addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "handleIncomingFrame",
			"media":       media.String(),
			"remote_addr": addr.String(),
		}).Debug("No session found for address")
		return err
	}

	session := f.session(media)
	if session == nil {
		return fmt.Errorf("%w: friend %d has no %s session", ErrSessionNotFound, friendNumber, media)
	}

	if err := session.ReceivePacket(packet.Data); err != nil {
		return fmt.Errorf("failed to process %s packet from friend %d: %w", media, friendNumber, err)
	}
	return nil
}

// handleIncomingReport hands a bandwidth report to the friend's controller.
func (ti *TransportIntegration) handleIncomingReport(packet *transport.Packet, addr net.Addr) error {
	friendNumber, f, err := ti.lookup(addr)
	if err != nil {
		return err
	}

	if err := f.bwc.HandleReport(packet.Data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "handleIncomingReport",
			"friend_number": friendNumber,
			"error":         err.Error(),
		}).Debug("Rejected bandwidth report")
		return err
	}
	return nil
}

// GetAllSessions returns all active RTP sessions.
func (ti *TransportIntegration) GetAllSessions() []*Session {
	ti.mu.RLock()
	defer ti.mu.RUnlock()

	sessions := make([]*Session, 0, 2*len(ti.friends))
	for _, f := range ti.friends {
		if f.audio != nil {
			sessions = append(sessions, f.audio)
		}
		if f.video != nil {
			sessions = append(sessions, f.video)
		}
	}
	return sessions
}

// Close shuts down every session. The underlying transport stays open.
func (ti *TransportIntegration) Close() error {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	var errs []error
	for friendNumber, f := range ti.friends {
		if err := closeFriendSessions(friendNumber, f); err != nil {
			errs = append(errs, err)
		}
	}

	ti.friends = make(map[uint32]*friendState)
	ti.addrToFriend = make(map[string]uint32)

	return errors.Join(errs...)
}
