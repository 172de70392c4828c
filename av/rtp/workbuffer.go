package rtp

import (
	"fmt"
	"time"
)

// workSlot holds one in-flight video message. A nil assembly marks a free slot.
type workSlot struct {
	asm      *assembly
	keyFrame bool
	started  time.Time
	order    uint64
}

// workBuffer reassembles several video messages concurrently and resolves
// them strictly in the order their first fragment arrived.
//
// A message that completes while an older one is still incomplete waits in
// its slot. When every slot is busy, the oldest slot is flushed (possibly
// partially) to make room, unless it is a key frame younger than the
// retention window; then the incoming message is refused.
type workBuffer struct {
	slots        []workSlot
	retention    time.Duration
	timeProvider TimeProvider
	watermark    *watermark
	nextOrder    uint64
}

func newWorkBuffer(slots int, retention time.Duration, tp TimeProvider, w *watermark) *workBuffer {
	return &workBuffer{
		slots:        make([]workSlot, slots),
		retention:    retention,
		timeProvider: tp,
		watermark:    w,
	}
}

func (wb *workBuffer) handleFragment(h *Header, payload []byte, rx *receiveResult) error {
	if i := wb.find(h); i >= 0 {
		if err := wb.slots[i].asm.write(h, payload); err != nil {
			return err
		}
		rx.accepted = true
		wb.deliverReady(rx)
		return nil
	}

	if wb.watermark.isLate(h) {
		return fmt.Errorf("%w: seq %d ts %d behind watermark seq %d ts %d",
			ErrLateMessage, h.SequenceNumber, h.Timestamp, wb.watermark.sequence, wb.watermark.timestamp)
	}

	i := wb.free()
	if i < 0 {
		i = wb.earliest()
		slot := &wb.slots[i]
		if slot.keyFrame {
			if age := wb.timeProvider.Since(slot.started); age < wb.retention {
				return fmt.Errorf("%w: key frame seq %d held for %s", ErrSlotExhausted, slot.asm.header.SequenceNumber, age)
			}
		}
	}

	// Allocate only once a slot is certain; the evicted message stays until
	// the first fragment is known to fit.
	next := newAssembly(h)
	if err := next.write(h, payload); err != nil {
		return err
	}

	if wb.slots[i].asm != nil {
		wb.resolve(i, rx)
		wb.deliverReady(rx)
	}

	wb.watermark.admit(h)
	wb.slots[i] = workSlot{
		asm:      next,
		keyFrame: h.IsKeyFrame(),
		started:  wb.timeProvider.Now(),
		order:    wb.nextOrder,
	}
	wb.nextOrder++
	rx.accepted = true
	wb.deliverReady(rx)

	return nil
}

// find returns the slot holding the fragment's message, or -1.
func (wb *workBuffer) find(h *Header) int {
	for i := range wb.slots {
		if wb.slots[i].asm != nil && wb.slots[i].asm.matches(h) {
			return i
		}
	}
	return -1
}

// free returns an unoccupied slot, or -1.
func (wb *workBuffer) free() int {
	for i := range wb.slots {
		if wb.slots[i].asm == nil {
			return i
		}
	}
	return -1
}

// earliest returns the occupied slot whose message started first, or -1.
func (wb *workBuffer) earliest() int {
	best := -1
	for i := range wb.slots {
		if wb.slots[i].asm == nil {
			continue
		}
		if best < 0 || wb.slots[i].order < wb.slots[best].order {
			best = i
		}
	}
	return best
}

// deliverReady delivers complete messages from the front of the order.
func (wb *workBuffer) deliverReady(rx *receiveResult) {
	for {
		i := wb.earliest()
		if i < 0 || !wb.slots[i].asm.complete() {
			return
		}
		wb.resolve(i, rx)
	}
}

// resolve delivers the slot's message and frees the slot.
func (wb *workBuffer) resolve(i int, rx *receiveResult) {
	rx.deliver(wb.slots[i].asm)
	wb.slots[i] = workSlot{}
}

func (wb *workBuffer) pending() int {
	n := 0
	for i := range wb.slots {
		if wb.slots[i].asm != nil {
			n++
		}
	}
	return n
}

func (wb *workBuffer) reset() {
	for i := range wb.slots {
		wb.slots[i] = workSlot{}
	}
}
