package rtp

// reassembler is the receive strategy of a session, chosen once at creation
// from the media type.
type reassembler interface {
	// handleFragment routes one validated fragment. On error nothing was
	// written and no message was flushed.
	handleFragment(h *Header, payload []byte, rx *receiveResult) error

	// pending returns the number of messages currently being assembled.
	pending() int

	// reset discards all pending messages without delivering them.
	reset()
}

// receiveResult collects the side effects of one received packet so the
// session can report them after releasing its lock.
type receiveResult struct {
	accepted    bool
	delivered   []*Message
	lossEvents  []uint32
	lostPackets uint32
}

// deliver queues a resolved message and records its missing bytes.
func (rx *receiveResult) deliver(a *assembly) {
	if missing := a.missing(); missing > 0 {
		rx.lossEvents = append(rx.lossEvents, missing)
	}
	rx.delivered = append(rx.delivered, a.message())
}

// watermark is the identity of the most recently admitted message.
type watermark struct {
	valid     bool
	sequence  uint16
	timestamp uint32
}

// isLate reports whether a fragment that matches no pending message must be
// dropped: it belongs to the watermark message itself, which has already been
// resolved, or to a message sent before it.
func (w *watermark) isLate(h *Header) bool {
	if !w.valid {
		return false
	}
	return !precedes(w.sequence, w.timestamp, h.SequenceNumber, h.Timestamp)
}

// gap returns the wrapping sequence distance from a late fragment to the
// watermark.
func (w *watermark) gap(h *Header) uint16 {
	return w.sequence - h.SequenceNumber
}

// admit advances the watermark to a newly started message.
func (w *watermark) admit(h *Header) {
	w.valid = true
	w.sequence = h.SequenceNumber
	w.timestamp = h.Timestamp
}

func (w *watermark) reset() { *w = watermark{} }

// precedes reports whether message (seq, ts) was sent strictly before message
// (refSeq, refTs). Timestamps compare in serial number arithmetic (RFC 1982)
// so the 32-bit millisecond clock may wrap. Messages sent in the same
// millisecond share a timestamp and are ordered by wrapping sequence number.
func precedes(seq uint16, ts uint32, refSeq uint16, refTs uint32) bool {
	if d := int32(ts - refTs); d != 0 {
		return d < 0
	}
	return int16(seq-refSeq) < 0
}
