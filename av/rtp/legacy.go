package rtp

import (
	"fmt"
)

// legacyAssembler reassembles one in-flight message at a time. It serves the
// audio path and peers that do not use extended framing.
//
// A fragment of a newer message flushes the current one as-is, so a message
// that lost fragments is still delivered, only partially.
type legacyAssembler struct {
	watermark *watermark
	current   *assembly
}

func newLegacyAssembler(w *watermark) *legacyAssembler {
	return &legacyAssembler{watermark: w}
}

func (l *legacyAssembler) handleFragment(h *Header, payload []byte, rx *receiveResult) error {
	if l.current != nil {
		if l.current.matches(h) {
			if err := l.current.write(h, payload); err != nil {
				return err
			}
			rx.accepted = true
			if l.current.complete() {
				l.flush(rx)
			}
			return nil
		}

		cur := &l.current.header
		if precedes(h.SequenceNumber, h.Timestamp, cur.SequenceNumber, cur.Timestamp) {
			return fmt.Errorf("%w: seq %d ts %d older than in-flight seq %d ts %d",
				ErrLateFragment, h.SequenceNumber, h.Timestamp, cur.SequenceNumber, cur.Timestamp)
		}
	} else if l.watermark.isLate(h) {
		gap := l.watermark.gap(h)
		rx.lostPackets += uint32(gap)
		if gap > 0 {
			rx.lossEvents = append(rx.lossEvents, uint32(len(payload)))
		}
		return fmt.Errorf("%w: seq %d ts %d behind watermark seq %d ts %d",
			ErrLateFragment, h.SequenceNumber, h.Timestamp, l.watermark.sequence, l.watermark.timestamp)
	}

	next := newAssembly(h)
	if err := next.write(h, payload); err != nil {
		return err
	}

	if l.current != nil {
		l.flush(rx)
	}

	l.watermark.admit(h)
	l.current = next
	rx.accepted = true
	if next.complete() {
		l.flush(rx)
	}

	return nil
}

// flush delivers the current message, complete or not.
func (l *legacyAssembler) flush(rx *receiveResult) {
	rx.deliver(l.current)
	l.current = nil
}

func (l *legacyAssembler) pending() int {
	if l.current == nil {
		return 0
	}
	return 1
}

func (l *legacyAssembler) reset() { l.current = nil }
