package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/toxrtp/limits"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// DSCPExpeditedForwarding is the DiffServ code point recommended for
// interactive real-time media (RFC 4594).
const DSCPExpeditedForwarding = 46

// readBufferSize comfortably exceeds one lossy Tox packet.
const readBufferSize = 2048

// UDPTransport implements UDP-based communication for the Tox protocol.
// It satisfies the Transport interface.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr
	handlers   map[PacketType]PacketHandler
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewUDPTransport creates a new UDP transport listener.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	return NewUDPTransportWithConn(conn), nil
}

// NewUDPTransportWithConn creates a transport on top of an existing packet
// connection. The transport takes ownership of conn and closes it on Close.
func NewUDPTransportWithConn(conn net.PacketConn) *UDPTransport {
	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
		handlers:   make(map[PacketType]PacketHandler),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPTransportWithConn",
		"local_addr": t.listenAddr.String(),
	}).Info("UDP transport started")

	go t.processPackets()

	return t
}

// RegisterHandler registers a handler for a specific packet type.
func (t *UDPTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[packetType] = handler
}

// Send sends a packet to the specified address.
func (t *UDPTransport) Send(packet *Packet, addr net.Addr) error {
	if addr == nil {
		return errors.New("destination address cannot be nil")
	}

	data, err := packet.Serialize()
	if err != nil {
		return err
	}
	if err := limits.ValidatePacket(data, limits.MaxPlaintextMessage); err != nil {
		return err
	}

	_, err = t.conn.WriteTo(data, addr)
	return err
}

// SetDSCP marks outgoing datagrams with the given DiffServ code point.
// It only succeeds on IPv4 sockets backed by the operating system.
func (t *UDPTransport) SetDSCP(dscp int) error {
	if dscp < 0 || dscp > 63 {
		return fmt.Errorf("invalid DSCP value %d", dscp)
	}

	// ipv4.NewPacketConn requires the connection to also be a net.Conn.
	if _, ok := t.conn.(net.Conn); !ok {
		return fmt.Errorf("failed to set DSCP: %T is not a socket connection", t.conn)
	}

	if err := ipv4.NewPacketConn(t.conn).SetTOS(dscp << 2); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "UDPTransport.SetDSCP",
			"dscp":     dscp,
			"error":    err.Error(),
		}).Warn("Failed to set DSCP on socket")
		return fmt.Errorf("failed to set DSCP: %w", err)
	}

	return nil
}

// Close shuts down the transport and waits for the read loop to exit.
func (t *UDPTransport) Close() error {
	t.cancel()
	err := t.conn.Close()
	<-t.done
	return err
}

// processPackets handles incoming packets until the transport is closed.
func (t *UDPTransport) processPackets() {
	defer close(t.done)

	buffer := make([]byte, readBufferSize)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			t.processIncomingPacket(buffer)
		}
	}
}

// processIncomingPacket reads and processes a single incoming packet.
func (t *UDPTransport) processIncomingPacket(buffer []byte) {
	data, addr, err := t.readPacketData(buffer)
	if err != nil {
		return
	}

	packet, err := ParsePacket(data)
	if err != nil {
		return
	}

	t.dispatchPacketToHandler(packet, addr)
}

// readPacketData reads data from the connection with timeout handling.
func (t *UDPTransport) readPacketData(buffer []byte) ([]byte, net.Addr, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, t.handleReadError(err)
	}

	return buffer[:n], addr, nil
}

// handleReadError logs unexpected read failures. Timeouts are routine.
func (t *UDPTransport) handleReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return err
	}
	if t.ctx.Err() != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "UDPTransport.readPacketData",
		"error":    err.Error(),
	}).Debug("Read from packet connection failed")

	// Avoid spinning on a persistently failing connection.
	time.Sleep(10 * time.Millisecond)
	return err
}

// dispatchPacketToHandler runs the handler registered for the packet type.
func (t *UDPTransport) dispatchPacketToHandler(packet *Packet, addr net.Addr) {
	t.mu.RLock()
	handler, exists := t.handlers[packet.PacketType]
	t.mu.RUnlock()

	if !exists {
		return
	}

	if err := handler(packet, addr); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "UDPTransport.dispatchPacketToHandler",
			"packet_type": packet.PacketType.String(),
			"remote_addr": addr.String(),
			"error":       err.Error(),
		}).Debug("Packet handler returned error")
	}
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.listenAddr
}
