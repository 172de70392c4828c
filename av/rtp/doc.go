// Package rtp implements the ToxAV RTP layer: it splits encoded audio and
// video frames into MTU-sized fragments and reassembles them on the
// receiving side.
//
// Fragments travel as Tox lossy packets (see package transport). Each carries
// a 40-byte header: the RFC 3550 fixed header followed by ToxAV framing
// fields that locate the fragment inside its message.
//
// # Sending
//
//	session, err := rtp.NewSession(friendNumber, rtp.MediaVideo, tr, addr)
//	if err != nil {
//	    return err
//	}
//	err = session.SendVideoFrame(frame, isKeyFrame)
//
// A frame is sent as ceil(len/(MTU-40)) fragments sharing one sequence
// number and timestamp. The last fragment carries the marker bit.
//
// # Receiving
//
// Audio sessions assemble one message at a time; a fragment of a newer
// message flushes the current one even if it is incomplete. Video sessions
// keep a small work buffer of concurrently assembled messages and deliver
// them in arrival order of their first fragment. Recent key frames are
// protected from eviction for a short retention window.
//
// Delivered messages always have their declared length. Messages that lost
// fragments are delivered too, with Message.Complete() reporting false.
//
// # Integration
//
// TransportIntegration registers the AV packet handlers on a
// transport.Transport, routes packets by source address to the friend's
// sessions and attaches one bandwidth controller (package av/bwc) per
// friend. Received, lost and average packet sizes flow from the sessions
// into that controller, which periodically reports loss to the peer.
//
// # Configuration
//
// Config can be loaded from YAML with LoadConfig or ParseConfig:
//
//	mtu: 1200
//	work_buffer_slots: 4
//	key_frame_retention: 20ms
//	bandwidth:
//	  send_interval: 950ms
//
// # Thread Safety
//
// Session and TransportIntegration are safe for concurrent use. Message
// handlers and loss callbacks are invoked without internal locks held.
package rtp
