package pktcap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHook_Validation(t *testing.T) {
	r, err := NewRing(8, 16)
	require.NoError(t, err)

	_, err = NewHook(nil, 100)
	require.Error(t, err)

	for _, rate := range []int{-1, 101} {
		_, err := NewHook(r, rate)
		require.Error(t, err, "rate %d", rate)
	}
}

func TestHook_PublishesFrames(t *testing.T) {
	r, err := NewRing(8, 32)
	require.NoError(t, err)
	h, err := NewHook(r, 100)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	frame := []byte{0xde, 0xad, 0xbe, 0xef}
	h.HandleFrame(frame, len(frame))

	var ev Event
	ok, err := r.TryConsume(&ev)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, frame, ev.Payload)
	assert.Equal(t, uint32(4), ev.PacketLen)
	assert.Positive(t, ev.Timestamp, "timestamp counts from the hook epoch")

	st := h.Stats()
	assert.Equal(t, uint64(1), st.Seen)
	assert.Equal(t, uint64(0), st.SampledOut)
}

func TestHook_TimestampsAreMonotonic(t *testing.T) {
	r, err := NewRing(16, 8)
	require.NoError(t, err)
	h, err := NewHook(r, 100)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		h.HandleFrame([]byte{byte(i)}, 1)
	}

	var ev Event
	var last uint64
	for i := 0; i < 10; i++ {
		ok, err := r.TryConsume(&ev)
		require.NoError(t, err)
		require.True(t, ok)
		assert.GreaterOrEqual(t, ev.Timestamp, last)
		last = ev.Timestamp
	}
}

func TestHook_TruncatesButKeepsWireLength(t *testing.T) {
	r, err := NewRing(8, 8)
	require.NoError(t, err)
	h, err := NewHook(r, 100)
	require.NoError(t, err)

	frame := make([]byte, 100)
	for i := range frame {
		frame[i] = byte(i)
	}
	h.HandleFrame(frame, len(frame))

	// A backend may hand over a frame it already truncated; the wire
	// length still describes the original packet.
	h.HandleFrame(frame[:8], 1500)

	var ev Event
	ok, err := r.TryConsume(&ev)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(100), ev.PacketLen)
	assert.Equal(t, frame[:8], ev.Payload)

	ok, err = r.TryConsume(&ev)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(1500), ev.PacketLen)
	assert.Equal(t, frame[:8], ev.Payload)
}

func TestHook_SampleRateZeroKeepsNothing(t *testing.T) {
	r, err := NewRing(64, 8)
	require.NoError(t, err)
	h, err := NewHook(r, 0)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		h.HandleFrame([]byte{1}, 1)
	}

	st := h.Stats()
	assert.Equal(t, uint64(50), st.Seen)
	assert.Equal(t, uint64(50), st.SampledOut)
	assert.Equal(t, 0, r.Len())
}

func TestHook_SampleRateFullKeepsEverything(t *testing.T) {
	r, err := NewRing(64, 8)
	require.NoError(t, err)
	h, err := NewHook(r, 100)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		h.HandleFrame([]byte{1}, 1)
	}

	st := h.Stats()
	assert.Equal(t, uint64(50), st.Seen)
	assert.Equal(t, uint64(0), st.SampledOut)
	assert.Equal(t, 50, r.Len())
}

func TestHook_SampleRateIsRoughlyHonored(t *testing.T) {
	const frames = 10000

	r, err := NewRing(16384, 8)
	require.NoError(t, err)
	h, err := NewHook(r, 30)
	require.NoError(t, err)

	for i := 0; i < frames; i++ {
		h.HandleFrame([]byte{1}, 1)
	}

	st := h.Stats()
	require.Equal(t, uint64(frames), st.Seen)
	kept := frames - st.SampledOut
	assert.Equal(t, uint64(r.Len()), kept, "every kept frame lands in the ring")
	assert.InDelta(t, frames*30/100, kept, frames*5/100, "roughly 30 percent of frames should survive sampling")
}

func TestHook_FullRingNeverBlocks(t *testing.T) {
	r, err := NewRing(2, 8)
	require.NoError(t, err)
	h, err := NewHook(r, 100)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		h.HandleFrame([]byte{byte(i)}, 1)
	}

	assert.Equal(t, uint64(10), h.Stats().Seen)
	assert.Equal(t, uint64(8), r.Drops(), "overflow shows up only in the drop counter")
	assert.Equal(t, 2, r.Len())
}
