package rtp

import (
	"fmt"
	"sort"
)

// maxRanges bounds the bookkeeping of one message against adversarial
// fragment patterns. A legitimate maximum-size frame needs far fewer.
const maxRanges = 8192

// byteRange is a half-open interval [start, end).
type byteRange struct {
	start, end uint32
}

// rangeSet tracks received bytes as sorted, disjoint, coalesced intervals.
type rangeSet struct {
	ranges []byteRange
}

// overlaps reports whether [start, end) intersects a recorded interval.
func (rs *rangeSet) overlaps(start, end uint32) bool {
	i := sort.Search(len(rs.ranges), func(i int) bool { return rs.ranges[i].end > start })
	return i < len(rs.ranges) && rs.ranges[i].start < end
}

// add records [start, end), which must not overlap a recorded interval.
func (rs *rangeSet) add(start, end uint32) {
	if start == end {
		return
	}

	i := sort.Search(len(rs.ranges), func(i int) bool { return rs.ranges[i].start >= end })

	// Merge with the left and right neighbours when adjacent.
	mergeLeft := i > 0 && rs.ranges[i-1].end == start
	mergeRight := i < len(rs.ranges) && rs.ranges[i].start == end

	switch {
	case mergeLeft && mergeRight:
		rs.ranges[i-1].end = rs.ranges[i].end
		rs.ranges = append(rs.ranges[:i], rs.ranges[i+1:]...)
	case mergeLeft:
		rs.ranges[i-1].end = end
	case mergeRight:
		rs.ranges[i].start = start
	default:
		rs.ranges = append(rs.ranges, byteRange{})
		copy(rs.ranges[i+1:], rs.ranges[i:])
		rs.ranges[i] = byteRange{start: start, end: end}
	}
}

// assembly accumulates the fragments of one message.
type assembly struct {
	header   Header
	length   uint32
	received uint32
	data     []byte
	ranges   rangeSet
}

// newAssembly allocates a buffer for the message the header announces.
// The caller bounds h.Length() before calling.
func newAssembly(h *Header) *assembly {
	a := &assembly{
		header: *h,
		length: h.Length(),
		data:   make([]byte, h.Length()),
	}
	a.header.Marker = false
	a.header.OffsetFull = 0
	a.header.OffsetLower = 0
	a.header.LengthFull = a.length
	a.header.ReceivedLengthFull = 0
	return a
}

// matches reports whether the fragment belongs to this message.
func (a *assembly) matches(h *Header) bool {
	return a.header.SequenceNumber == h.SequenceNumber && a.header.Timestamp == h.Timestamp
}

// write copies a fragment into the buffer. It rejects fragments that do not
// fit the declared length or overlap bytes already written, leaving the
// buffer untouched.
func (a *assembly) write(h *Header, payload []byte) error {
	if h.Length() != a.length {
		return fmt.Errorf("%w: fragment declares length %d, message has %d", ErrOffsetOutOfBounds, h.Length(), a.length)
	}

	offset := h.Offset()
	end := uint64(offset) + uint64(len(payload))
	if end > uint64(a.length) {
		return fmt.Errorf("%w: offset %d + %d bytes exceeds length %d", ErrOffsetOutOfBounds, offset, len(payload), a.length)
	}
	if len(payload) == 0 {
		if a.length != 0 {
			return fmt.Errorf("%w: empty fragment for %d byte message", ErrOffsetOutOfBounds, a.length)
		}
		return nil
	}
	if a.ranges.overlaps(offset, uint32(end)) {
		return fmt.Errorf("%w: bytes %d-%d already received", ErrOffsetOutOfBounds, offset, end)
	}
	if len(a.ranges.ranges) >= maxRanges {
		return fmt.Errorf("%w: too many disjoint fragments", ErrOffsetOutOfBounds)
	}

	copy(a.data[offset:end], payload)
	a.ranges.add(offset, uint32(end))
	a.received += uint32(len(payload))

	return nil
}

// complete reports whether every byte has been received.
func (a *assembly) complete() bool { return a.received == a.length }

// missing returns the number of bytes not yet received.
func (a *assembly) missing() uint32 { return a.length - a.received }

// message hands the buffer over as a Message.
func (a *assembly) message() *Message {
	h := a.header
	h.ReceivedLengthFull = a.received
	return &Message{Header: h, Data: a.data}
}
