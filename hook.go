package pktcap

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Hook is the per-frame capture entry point. A capture backend invokes
// HandleFrame once for every received frame; the hook stamps the capture
// time, applies the sampling decision and publishes the event into its ring.
//
// Exactly one backend (one goroutine) may drive a hook: it is the single
// producer of the ring it wraps.
type Hook struct {
	ring  *Ring
	epoch time.Time

	rate uint32 // percent of frames kept, 0..100
	rng  uint64 // xorshift state, touched only by the producer

	seen       atomic.Uint64
	sampledOut atomic.Uint64
}

// HookStats is a snapshot of producer-side counters. Ring-level counters
// (published, dropped) live on the ring itself.
type HookStats struct {
	Seen       uint64 // frames handed to the hook
	SampledOut uint64 // frames discarded by the sampling decision
}

// NewHook wraps ring with a capture entry point keeping sampleRate percent
// of frames (100 keeps everything, 0 keeps nothing). The hook epoch is fixed
// here; all event timestamps count from it.
func NewHook(ring *Ring, sampleRate int) (*Hook, error) {
	if ring == nil {
		return nil, errors.New("hook requires a ring")
	}
	if sampleRate < 0 || sampleRate > 100 {
		return nil, errors.Errorf("sample rate must be within [0, 100], got %d", sampleRate)
	}
	return &Hook{
		ring:  ring,
		epoch: time.Now(),
		rate:  uint32(sampleRate),
		rng:   uint64(time.Now().UnixNano()) | 1,
	}, nil
}

// HandleFrame records one received frame. The timestamp is taken on entry;
// wireLen is the original frame length, which may exceed len(frame) when the
// backend already truncated the capture. The publish result is deliberately
// ignored: capture is best effort and must never influence what happens to
// the frame itself. The frame slice is only read during the call, so the
// backend may reuse its buffer.
//
// HandleFrame never blocks, never allocates and runs in bounded time. The
// only trace of overload is the ring's drop counter.
func (h *Hook) HandleFrame(frame []byte, wireLen int) {
	ts := uint64(time.Since(h.epoch))
	h.seen.Add(1)
	if h.rate < 100 && h.nextRand()%100 >= h.rate {
		h.sampledOut.Add(1)
		return
	}
	h.ring.TryPublish(ts, uint32(wireLen), frame)
}

// Epoch returns the wall-clock instant event timestamps count from, so a
// sink can render absolute times.
func (h *Hook) Epoch() time.Time {
	return h.epoch
}

// Stats returns a snapshot of the hook counters.
func (h *Hook) Stats() HookStats {
	return HookStats{
		Seen:       h.seen.Load(),
		SampledOut: h.sampledOut.Load(),
	}
}

// nextRand is one xorshift64* step. The producer context owns the state;
// math/rand's global source takes a lock, which has no place on the
// per-frame path.
func (h *Hook) nextRand() uint32 {
	x := h.rng
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	h.rng = x
	return uint32((x * 0x2545f4914f6cdd1d) >> 32)
}
