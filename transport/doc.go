// Package transport implements the packet transport underneath the ToxAV RTP
// layer.
//
// Every packet on the wire starts with a one-byte PacketType that routes it to
// a registered handler; the remaining bytes are opaque to this package:
//
//	[packet type (1 byte)][data (variable length)]
//
// The AV layer uses three types: PacketAVAudioFrame and PacketAVVideoFrame for
// RTP fragments and PacketBWCReport for bandwidth controller loss reports.
//
// Example:
//
//	t, err := transport.NewUDPTransport("0.0.0.0:33445")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Close()
//
//	t.RegisterHandler(transport.PacketAVVideoFrame, func(p *transport.Packet, addr net.Addr) error {
//	    return session.ReceivePacket(p.Data)
//	})
//
// Handlers are invoked synchronously from the transport's read loop, so
// packets from one peer reach the handler in the order they were read.
// A handler must not block.
package transport
