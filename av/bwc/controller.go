package bwc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/toxrtp/transport"
	"github.com/sirupsen/logrus"
)

// ReportSize is the wire size of a loss report.
const ReportSize = 8

var (
	// ErrMalformedReport indicates a loss report of the wrong size.
	ErrMalformedReport = errors.New("malformed bandwidth report")

	// ErrReportTooSoon indicates the peer reported again within SendInterval.
	ErrReportTooSoon = errors.New("bandwidth report received too soon")

	// ErrInvalidConfig indicates unusable controller settings.
	ErrInvalidConfig = errors.New("invalid bandwidth controller config")
)

// Config holds the controller's timing parameters.
type Config struct {
	// SendInterval is the minimum time between two loss reports (default: 950ms).
	SendInterval time.Duration `yaml:"send_interval"`

	// RefreshInterval is the age after which counters decay (default: 2s).
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// AvgPacketCount is the window of the packet size average (default: 20).
	AvgPacketCount int `yaml:"avg_packet_count"`
}

// DefaultConfig returns the ToxAV bandwidth controller defaults.
func DefaultConfig() Config {
	return Config{
		SendInterval:    950 * time.Millisecond,
		RefreshInterval: 2 * time.Second,
		AvgPacketCount:  20,
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	if c.SendInterval <= 0 {
		return fmt.Errorf("%w: send interval must be positive", ErrInvalidConfig)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("%w: refresh interval must be positive", ErrInvalidConfig)
	}
	if c.AvgPacketCount <= 0 {
		return fmt.Errorf("%w: average packet count must be positive", ErrInvalidConfig)
	}
	return nil
}

// Stats is a snapshot of controller counters.
type Stats struct {
	BytesReceived   uint64
	BytesLost       uint64
	ReportsSent     uint64
	ReportsFailed   uint64
	ReportsReceived uint64
	LastRemoteLoss  float32
}

// LossCallback receives the loss ratio the peer observed on our stream.
type LossCallback func(friendNumber uint32, loss float32)

// Controller accumulates receive/loss byte counts for one friend and
// exchanges loss reports with the peer.
type Controller struct {
	mu           sync.Mutex
	friendNumber uint32
	config       Config
	transport    transport.Transport
	remoteAddr   net.Addr
	timeProvider TimeProvider

	cycleLost   uint32
	cycleRecv   uint32
	lastRefresh time.Time
	lastSent    time.Time
	lastReport  time.Time

	packetSizes []uint32
	nextSize    int
	filledSizes int
	sizeSum     uint64

	lossCb LossCallback
	stats  Stats
}

// NewController creates a bandwidth controller for a friend.
func NewController(friendNumber uint32, tr transport.Transport, remoteAddr net.Addr, config Config) (*Controller, error) {
	return NewControllerWithTimeProvider(friendNumber, tr, remoteAddr, config, DefaultTimeProvider{})
}

// NewControllerWithTimeProvider creates a controller with an injected clock.
// Use this for deterministic testing.
func NewControllerWithTimeProvider(friendNumber uint32, tr transport.Transport, remoteAddr net.Addr, config Config, tp TimeProvider) (*Controller, error) {
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if remoteAddr == nil {
		return nil, fmt.Errorf("remote address cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if tp == nil {
		tp = DefaultTimeProvider{}
	}

	now := tp.Now()
	c := &Controller{
		friendNumber: friendNumber,
		config:       config,
		transport:    tr,
		remoteAddr:   remoteAddr,
		timeProvider: tp,
		lastRefresh:  now,
		lastSent:     now,
		packetSizes:  make([]uint32, config.AvgPacketCount),
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewController",
		"friend_number": friendNumber,
		"send_interval": config.SendInterval.String(),
	}).Debug("Bandwidth controller created")

	return c, nil
}

// SetLossCallback registers the callback invoked for each peer report.
func (c *Controller) SetLossCallback(cb LossCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lossCb = cb
}

// AddRecv records bytes accepted by a receiving session.
func (c *Controller) AddRecv(bytes uint32) {
	if bytes == 0 {
		return
	}

	c.mu.Lock()
	c.cycleRecv += bytes
	c.stats.BytesReceived += uint64(bytes)
	report := c.updateLocked()
	c.mu.Unlock()

	c.sendReport(report)
}

// AddLost records bytes a receiving session detected as lost.
func (c *Controller) AddLost(bytes uint32) {
	if bytes == 0 {
		return
	}

	c.mu.Lock()
	c.cycleLost += bytes
	c.stats.BytesLost += uint64(bytes)
	report := c.updateLocked()
	c.mu.Unlock()

	c.sendReport(report)
}

// FeedAvg adds one received packet size to the moving average.
func (c *Controller) FeedAvg(packetLen uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sizeSum -= uint64(c.packetSizes[c.nextSize])
	c.packetSizes[c.nextSize] = packetLen
	c.sizeSum += uint64(packetLen)
	c.nextSize = (c.nextSize + 1) % len(c.packetSizes)
	if c.filledSizes < len(c.packetSizes) {
		c.filledSizes++
	}
}

// AveragePacketSize returns the mean of the last AvgPacketCount packet sizes.
func (c *Controller) AveragePacketSize() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filledSizes == 0 {
		return 0
	}
	return float64(c.sizeSum) / float64(c.filledSizes)
}

// updateLocked advances the report cycle and returns a report to send, if any.
func (c *Controller) updateLocked() []byte {
	now := c.timeProvider.Now()

	if now.Sub(c.lastRefresh) > c.config.RefreshInterval {
		c.cycleLost /= 10
		c.cycleRecv /= 10
		c.lastRefresh = now
		return nil
	}

	if now.Sub(c.lastSent) <= c.config.SendInterval {
		return nil
	}

	var report []byte
	if c.cycleLost > 0 {
		report = make([]byte, ReportSize)
		binary.BigEndian.PutUint32(report[0:4], c.cycleLost)
		binary.BigEndian.PutUint32(report[4:8], c.cycleRecv)
	}

	c.lastSent = now
	c.cycleLost = 0
	c.cycleRecv = 0

	return report
}

// sendReport transmits a loss report; it must be called without c.mu held.
func (c *Controller) sendReport(report []byte) {
	if report == nil {
		return
	}

	err := c.transport.Send(&transport.Packet{
		PacketType: transport.PacketBWCReport,
		Data:       report,
	}, c.remoteAddr)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.stats.ReportsFailed++
		logrus.WithFields(logrus.Fields{
			"function":      "Controller.sendReport",
			"friend_number": c.friendNumber,
			"error":         err.Error(),
		}).Warn("Failed to send bandwidth report")
		return
	}

	c.stats.ReportsSent++
}

// HandleReport processes a loss report received from the peer.
func (c *Controller) HandleReport(data []byte) error {
	if len(data) != ReportSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedReport, len(data), ReportSize)
	}

	lost := binary.BigEndian.Uint32(data[0:4])
	recv := binary.BigEndian.Uint32(data[4:8])

	c.mu.Lock()
	now := c.timeProvider.Now()
	if !c.lastReport.IsZero() && now.Sub(c.lastReport) < c.config.SendInterval {
		c.mu.Unlock()
		return ErrReportTooSoon
	}
	c.lastReport = now
	c.stats.ReportsReceived++

	if lost == 0 && recv == 0 {
		c.mu.Unlock()
		return nil
	}

	loss := float32(float64(lost) / (float64(lost) + float64(recv)))
	c.stats.LastRemoteLoss = loss
	cb := c.lossCb
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":      "Controller.HandleReport",
		"friend_number": c.friendNumber,
		"lost":          lost,
		"recv":          recv,
		"loss":          loss,
	}).Debug("Received bandwidth report")

	if cb != nil {
		cb(c.friendNumber, loss)
	}

	return nil
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}
