package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fragmentHeader builds the header of one fragment with both framing pairs
// filled in.
func fragmentHeader(seq uint16, ts uint32, offset, length uint32, flags uint64) *Header {
	return &Header{
		PayloadType:    PayloadTypeVideo,
		SequenceNumber: seq,
		Timestamp:      ts,
		Flags:          flags,
		OffsetFull:     offset,
		LengthFull:     length,
		OffsetLower:    saturate16(offset),
		LengthLower:    saturate16(length),
	}
}

func TestRangeSet_Merge(t *testing.T) {
	var rs rangeSet

	rs.add(10, 20)
	rs.add(30, 40)
	assert.Equal(t, []byteRange{{10, 20}, {30, 40}}, rs.ranges)

	rs.add(0, 5)
	assert.Equal(t, []byteRange{{0, 5}, {10, 20}, {30, 40}}, rs.ranges)

	rs.add(20, 30)
	assert.Equal(t, []byteRange{{0, 5}, {10, 40}}, rs.ranges)

	rs.add(5, 10)
	assert.Equal(t, []byteRange{{0, 40}}, rs.ranges)

	rs.add(40, 40)
	assert.Equal(t, []byteRange{{0, 40}}, rs.ranges)
}

func TestRangeSet_Overlaps(t *testing.T) {
	var rs rangeSet
	rs.add(10, 20)
	rs.add(30, 40)

	tests := []struct {
		start, end uint32
		want       bool
	}{
		{0, 10, false},
		{20, 30, false},
		{40, 50, false},
		{5, 11, true},
		{19, 31, true},
		{12, 15, true},
		{0, 100, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rs.overlaps(tt.start, tt.end), "[%d, %d)", tt.start, tt.end)
	}
}

func TestAssembly_Write(t *testing.T) {
	h := fragmentHeader(1, 10, 0, 100, FlagLargeFrame)
	a := newAssembly(h)

	require.NoError(t, a.write(fragmentHeader(1, 10, 50, 100, FlagLargeFrame), testPayload(50)))
	assert.False(t, a.complete())
	assert.Equal(t, uint32(50), a.missing())

	tests := []struct {
		name    string
		header  *Header
		payload []byte
	}{
		{"Length mismatch", fragmentHeader(1, 10, 0, 99, FlagLargeFrame), testPayload(10)},
		{"Past declared length", fragmentHeader(1, 10, 40, 100, FlagLargeFrame), testPayload(70)},
		{"Overlap", fragmentHeader(1, 10, 40, 100, FlagLargeFrame), testPayload(11)},
		{"Duplicate", fragmentHeader(1, 10, 50, 100, FlagLargeFrame), testPayload(50)},
		{"Empty fragment", fragmentHeader(1, 10, 0, 100, FlagLargeFrame), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.write(tt.header, tt.payload)
			assert.ErrorIs(t, err, ErrOffsetOutOfBounds)
			assert.Equal(t, uint32(50), a.received)
		})
	}

	require.NoError(t, a.write(fragmentHeader(1, 10, 0, 100, FlagLargeFrame), testPayload(50)))
	assert.True(t, a.complete())

	msg := a.message()
	assert.True(t, msg.Complete())
	assert.Equal(t, uint32(100), msg.Length())
	assert.Equal(t, uint32(100), msg.ReceivedLength())
	assert.Equal(t, append(testPayload(50), testPayload(50)...), msg.Data)
}

func TestAssembly_MessageHeader(t *testing.T) {
	h := fragmentHeader(7, 70, 30, 60, FlagLargeFrame|FlagKeyFrame)
	h.Marker = true
	a := newAssembly(h)
	require.NoError(t, a.write(h, testPayload(30)))

	msg := a.message()
	assert.False(t, msg.Header.Marker)
	assert.Equal(t, uint32(0), msg.Header.OffsetFull)
	assert.Equal(t, uint16(7), msg.SequenceNumber())
	assert.True(t, msg.IsKeyFrame())
	assert.False(t, msg.Complete())
	assert.Equal(t, uint32(30), msg.ReceivedLength())
	assert.Equal(t, make([]byte, 30), msg.Data[:30], "missing bytes stay zero")
}

func TestAssembly_RangeLimit(t *testing.T) {
	length := uint32(2*maxRanges + 2)
	a := newAssembly(fragmentHeader(1, 1, 0, length, FlagLargeFrame))

	for i := uint32(0); i < maxRanges; i++ {
		require.NoError(t, a.write(fragmentHeader(1, 1, 2*i, length, FlagLargeFrame), []byte{1}))
	}

	err := a.write(fragmentHeader(1, 1, 2*maxRanges, length, FlagLargeFrame), []byte{1})
	assert.ErrorIs(t, err, ErrOffsetOutOfBounds)
	assert.Equal(t, uint32(maxRanges), a.received)
}
