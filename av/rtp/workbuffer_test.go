package rtp

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func videoFragment(seq uint16, ts uint32, offset, length uint32, key bool) *Header {
	flags := FlagLargeFrame
	if key {
		flags |= FlagKeyFrame
	}
	return fragmentHeader(seq, ts, offset, length, flags)
}

func newTestWorkBuffer(slots int) (*workBuffer, *watermark, *mockTimeProvider) {
	w := &watermark{}
	tp := newMockTimeProvider()
	return newWorkBuffer(slots, 15*time.Millisecond, tp, w), w, tp
}

func deliveredSequences(rx *receiveResult) []uint16 {
	seqs := make([]uint16, 0, len(rx.delivered))
	for _, msg := range rx.delivered {
		seqs = append(seqs, msg.SequenceNumber())
	}
	return seqs
}

// startMessage admits the first half of a 100 byte message.
func startMessage(t *testing.T, wb *workBuffer, seq uint16, key bool, rx *receiveResult) {
	t.Helper()
	require.NoError(t, wb.handleFragment(videoFragment(seq, uint32(seq)*10, 0, 100, key), testPayload(50), rx))
}

// finishMessage supplies the second half of a message begun by startMessage.
func finishMessage(t *testing.T, wb *workBuffer, seq uint16, key bool, rx *receiveResult) {
	t.Helper()
	require.NoError(t, wb.handleFragment(videoFragment(seq, uint32(seq)*10, 50, 100, key), testPayload(50), rx))
}

func TestWorkBuffer_DeliversInAdmissionOrder(t *testing.T) {
	wb, _, _ := newTestWorkBuffer(3)
	var rx receiveResult

	startMessage(t, wb, 1, false, &rx)
	startMessage(t, wb, 2, false, &rx)
	finishMessage(t, wb, 2, false, &rx)
	assert.Empty(t, rx.delivered, "complete message waits for the older one")
	assert.Equal(t, 2, wb.pending())

	finishMessage(t, wb, 1, false, &rx)
	assert.Equal(t, []uint16{1, 2}, deliveredSequences(&rx))
	assert.Equal(t, 0, wb.pending())
	assert.Empty(t, rx.lossEvents)
}

func TestWorkBuffer_OlderMessageInSlotAccepted(t *testing.T) {
	wb, w, _ := newTestWorkBuffer(3)
	var rx receiveResult

	startMessage(t, wb, 1, false, &rx)
	startMessage(t, wb, 2, false, &rx)
	assert.Equal(t, uint16(2), w.sequence)

	// Message 1 is behind the watermark but still has its slot.
	finishMessage(t, wb, 1, false, &rx)
	assert.Equal(t, []uint16{1}, deliveredSequences(&rx))
}

func TestWorkBuffer_EvictsOldest(t *testing.T) {
	wb, _, _ := newTestWorkBuffer(3)
	var rx receiveResult

	startMessage(t, wb, 1, false, &rx)
	startMessage(t, wb, 2, false, &rx)
	finishMessage(t, wb, 2, false, &rx)
	startMessage(t, wb, 3, false, &rx)
	require.Empty(t, rx.delivered)

	startMessage(t, wb, 4, false, &rx)

	// Message 1 is flushed partially, which releases the complete message 2.
	require.Equal(t, []uint16{1, 2}, deliveredSequences(&rx))
	assert.False(t, rx.delivered[0].Complete())
	assert.True(t, rx.delivered[1].Complete())
	assert.Equal(t, []uint32{50}, rx.lossEvents)
	assert.Equal(t, 2, wb.pending())
}

func TestWorkBuffer_KeyFrameRetention(t *testing.T) {
	wb, w, tp := newTestWorkBuffer(3)
	var rx receiveResult

	startMessage(t, wb, 1, true, &rx)
	startMessage(t, wb, 2, false, &rx)
	startMessage(t, wb, 3, false, &rx)

	tp.Advance(5 * time.Millisecond)
	err := wb.handleFragment(videoFragment(4, 40, 0, 100, false), testPayload(50), &rx)
	assert.ErrorIs(t, err, ErrSlotExhausted)
	assert.Empty(t, rx.delivered)
	assert.Equal(t, 3, wb.pending())
	assert.Equal(t, uint16(3), w.sequence, "refused message does not move the watermark")

	tp.Advance(10 * time.Millisecond)
	require.NoError(t, wb.handleFragment(videoFragment(4, 40, 0, 100, false), testPayload(50), &rx))
	require.Equal(t, []uint16{1}, deliveredSequences(&rx))
	assert.True(t, rx.delivered[0].IsKeyFrame())
	assert.False(t, rx.delivered[0].Complete())
}

func TestWorkBuffer_NonKeyFrameNotProtected(t *testing.T) {
	wb, _, _ := newTestWorkBuffer(1)
	var rx receiveResult

	startMessage(t, wb, 1, false, &rx)
	startMessage(t, wb, 2, true, &rx)
	assert.Equal(t, []uint16{1}, deliveredSequences(&rx))
}

func TestWorkBuffer_LateMessage(t *testing.T) {
	wb, _, _ := newTestWorkBuffer(3)
	var rx receiveResult

	startMessage(t, wb, 2, false, &rx)
	finishMessage(t, wb, 2, false, &rx)
	require.Len(t, rx.delivered, 1)

	tests := []struct {
		name   string
		header *Header
	}{
		{"Fragment of delivered message", videoFragment(2, 20, 0, 100, false)},
		{"Older message without slot", videoFragment(1, 10, 0, 100, false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rx := receiveResult{}
			err := wb.handleFragment(tt.header, testPayload(50), &rx)
			assert.ErrorIs(t, err, ErrLateMessage)
			assert.False(t, rx.accepted)
			assert.Empty(t, rx.lossEvents)
			assert.Equal(t, 0, wb.pending())
		})
	}
}

func TestWorkBuffer_InvalidFirstFragmentEvictsNothing(t *testing.T) {
	wb, _, _ := newTestWorkBuffer(1)
	var rx receiveResult

	startMessage(t, wb, 1, false, &rx)

	err := wb.handleFragment(videoFragment(2, 20, 90, 100, false), testPayload(20), &rx)
	assert.ErrorIs(t, err, ErrOffsetOutOfBounds)
	assert.Empty(t, rx.delivered)
	assert.Equal(t, 1, wb.pending())
}

func TestWorkBuffer_Reset(t *testing.T) {
	wb, _, _ := newTestWorkBuffer(3)
	var rx receiveResult

	startMessage(t, wb, 1, false, &rx)
	startMessage(t, wb, 2, false, &rx)
	wb.reset()

	assert.Equal(t, 0, wb.pending())
	assert.Empty(t, rx.delivered)
}

func TestWorkBuffer_SameTimestampDuplicate(t *testing.T) {
	wb, w, _ := newTestWorkBuffer(3)
	var rx receiveResult

	require.NoError(t, wb.handleFragment(videoFragment(1, 50, 0, 10, false), testPayload(10), &rx))
	require.NoError(t, wb.handleFragment(videoFragment(2, 50, 0, 10, false), testPayload(10), &rx))
	require.Equal(t, []uint16{1, 2}, deliveredSequences(&rx))

	err := wb.handleFragment(videoFragment(1, 50, 0, 10, false), testPayload(10), &rx)
	assert.ErrorIs(t, err, ErrLateMessage)
	assert.Equal(t, []uint16{1, 2}, deliveredSequences(&rx))
	assert.Equal(t, uint16(2), w.sequence)
	assert.Equal(t, 0, wb.pending())
}

func TestWorkBuffer_FarTimestampDoesNotPinWatermark(t *testing.T) {
	wb, _, _ := newTestWorkBuffer(3)
	var rx receiveResult

	require.NoError(t, wb.handleFragment(videoFragment(1, 100, 0, 10, false), testPayload(10), &rx))

	// More than half the clock range ahead reads as behind.
	err := wb.handleFragment(videoFragment(2, 0xFFFFFFF0, 0, 10, false), testPayload(10), &rx)
	assert.ErrorIs(t, err, ErrLateMessage)

	require.NoError(t, wb.handleFragment(videoFragment(3, 120, 0, 10, false), testPayload(10), &rx))
	assert.Equal(t, []uint16{1, 3}, deliveredSequences(&rx))
}

func TestWorkBuffer_RefusedMessageAllocatesNoBuffer(t *testing.T) {
	wb, _, _ := newTestWorkBuffer(1)
	var rx receiveResult

	startMessage(t, wb, 1, true, &rx)

	const length = 4 * 1024 * 1024
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	for i := 0; i < 8; i++ {
		err := wb.handleFragment(videoFragment(2, 20, 0, length, false), testPayload(50), &rx)
		require.ErrorIs(t, err, ErrSlotExhausted)
	}
	runtime.ReadMemStats(&after)

	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(length))
	assert.Equal(t, 1, wb.pending())
}
