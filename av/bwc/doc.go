// Package bwc implements the bandwidth controller collaborator of the ToxAV
// RTP transport.
//
// A Controller accumulates, per friend, the bytes received and the bytes
// detected as lost by that friend's RTP sessions. Roughly once per
// SendInterval a non-zero loss cycle is reported to the peer in a small
// PacketBWCReport packet:
//
//	[lost (4 bytes, big-endian)][recv (4 bytes, big-endian)]
//
// The peer turns that report into a loss ratio lost/(lost+recv) and hands it
// to the application through the loss callback, which is where an encoder
// bitrate decision would be made:
//
//	ctrl, err := bwc.NewController(friendNumber, tr, addr, bwc.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	ctrl.SetLossCallback(func(friendNumber uint32, loss float32) {
//	    adjustBitrate(friendNumber, loss)
//	})
//
// Counters older than RefreshInterval decay to a tenth of their value so a
// quiet stream does not report stale loss.
//
// Controller methods are safe for concurrent use; a friend's audio and video
// sessions share one controller.
package bwc
