// Package limits provides centralized size constants and validation functions
// for the ToxAV RTP transport. It keeps packet and frame size enforcement
// consistent between the sending and the receiving side.
//
// # Size Hierarchy
//
//   - MaxPlaintextMessage (1372 bytes): the largest lossy Tox packet, including
//     the one-byte packet type that routes it to the AV layer.
//
//   - DefaultAVMTU (1371 bytes): the largest RTP packet (header plus payload)
//     that fits into one lossy packet after the packet type byte.
//
//   - MaxLegacyFrame (65535 bytes): the largest message the legacy 16-bit
//     framing can describe. Audio always uses legacy framing.
//
//   - MaxAVFrame (4 MiB): the largest video frame accepted on either side.
//     Receivers allocate reassembly buffers from the length announced by the
//     remote peer, so this bound also caps memory per in-flight message.
//
// # Validation Functions
//
//	if err := limits.ValidateMessageSize(frame, limits.MaxLegacyFrame); err != nil {
//	    // ErrMessageTooLarge
//	}
//
// ValidatePacket checks one serialized packet against an MTU:
//
//	err := limits.ValidatePacket(data, limits.MaxPlaintextMessage)
//
// Empty frames are valid AV messages; only ValidatePacket rejects empty input
// because every RTP packet carries at least a header.
package limits
