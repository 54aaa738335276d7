package pktcap

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
)

// Result reports the outcome of a publish attempt.
type Result uint8

const (
	// Published means the event was written into a free slot.
	Published Result = iota
	// Dropped means the ring was full; the event was discarded and the
	// drop counter incremented.
	Dropped
)

func (r Result) String() string {
	switch r {
	case Published:
		return "published"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Ring is a fixed-capacity single-producer/single-consumer channel of
// fixed-size packet event slots over one backing array. It is allocated once
// and never resized, and moves events from the capture path to the consumer
// without locks or per-event allocation.
//
// Exactly one goroutine may publish and exactly one may consume. The
// producer owns the write index and the target slot; the consumer owns the
// read index. The write index is stored only after the slot is fully
// written, and the consumer loads it before touching the slot, so a slot's
// contents are visible to the consumer by the time it observes the advanced
// index. read <= write <= read+capacity always holds.
//
// Overflow policy: the newest arrival drops. A full ring never blocks the
// producer and never overwrites a slot the consumer has not read yet; under
// sustained overload the channel is lossy and the loss is visible only
// through the drop counter.
type Ring struct {
	slots    []byte
	mask     uint64
	slotSize int
	snap     int

	// Index and counter fields are padded apart so the producer and the
	// consumer do not false-share a cache line.
	_         [64 - unsafe.Sizeof(uint64(0))]byte
	write     atomic.Uint64
	published atomic.Uint64

	_        [64 - unsafe.Sizeof(uint64(0))]byte
	read     atomic.Uint64
	consumed atomic.Uint64

	_     [64 - unsafe.Sizeof(uint64(0))]byte
	drops atomic.Uint64
}

// Stats is a point-in-time snapshot of ring counters.
type Stats struct {
	Capacity  int    // slot count
	Length    int    // slots currently occupied
	Published uint64 // events accepted by TryPublish
	Consumed  uint64 // events handed out by TryConsume
	Dropped   uint64 // events rejected because the ring was full
}

// NewRing allocates a ring of capacity slots, each holding one event with up
// to snapLen payload bytes. Capacity must be a power of two; invalid sizes
// are refused, never rounded.
func NewRing(capacity, snapLen int) (*Ring, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, errors.Errorf("ring capacity must be a power of two, got %d", capacity)
	}
	if snapLen < 1 || snapLen > MaxSnapLen {
		return nil, errors.Errorf("snap length must be within [1, %d], got %d", MaxSnapLen, snapLen)
	}
	slotSize := slotHeaderLen + snapLen
	return &Ring{
		slots:    make([]byte, capacity*slotSize),
		mask:     uint64(capacity) - 1,
		slotSize: slotSize,
		snap:     snapLen,
	}, nil
}

// TryPublish writes one event into the next free slot and publishes it by
// advancing the write index. If the ring is full the event is dropped and
// counted instead. Only the single producer may call it; it completes in
// bounded time and does not allocate.
func (r *Ring) TryPublish(timestamp uint64, packetLen uint32, payload []byte) Result {
	w := r.write.Load()
	if w-r.read.Load() > r.mask {
		r.drops.Add(1)
		return Dropped
	}
	off := int(w&r.mask) * r.slotSize
	encodeEvent(r.slots[off:off+r.slotSize], r.snap, timestamp, packetLen, payload)
	r.published.Add(1)
	// The slot is complete; only now may the consumer see the new index.
	r.write.Store(w + 1)
	return Published
}

// TryConsume copies the oldest unread event into ev and advances the read
// index. It returns false when the ring is empty, leaving all state
// untouched. A slot that fails decoding is skipped: the read index still
// advances and the error describes the discarded slot. Only the single
// consumer may call it.
func (r *Ring) TryConsume(ev *Event) (bool, error) {
	rd := r.read.Load()
	if rd == r.write.Load() {
		return false, nil
	}
	off := int(rd&r.mask) * r.slotSize
	err := decodeEvent(r.slots[off:off+r.slotSize], r.snap, ev)
	r.read.Store(rd + 1)
	if err != nil {
		return false, err
	}
	r.consumed.Add(1)
	return true, nil
}

// Drops returns the number of events rejected because the ring was full. It
// never blocks either side.
func (r *Ring) Drops() uint64 {
	return r.drops.Load()
}

// ResetDrops returns the current drop count and resets it to zero, for
// monitoring paths that report deltas.
func (r *Ring) ResetDrops() uint64 {
	return r.drops.Swap(0)
}

// Capacity returns the slot count.
func (r *Ring) Capacity() int {
	return int(r.mask + 1)
}

// SnapLen returns the payload bytes retained per event.
func (r *Ring) SnapLen() int {
	return r.snap
}

// Len returns the number of occupied slots. Approximate while both sides
// are running.
func (r *Ring) Len() int {
	rd := r.read.Load()
	w := r.write.Load()
	if w < rd {
		return 0
	}
	if n := w - rd; n <= r.mask {
		return int(n)
	}
	return int(r.mask + 1)
}

// Stats returns a snapshot of the ring counters.
func (r *Ring) Stats() Stats {
	return Stats{
		Capacity:  r.Capacity(),
		Length:    r.Len(),
		Published: r.published.Load(),
		Consumed:  r.consumed.Load(),
		Dropped:   r.drops.Load(),
	}
}
