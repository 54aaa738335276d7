package pktcap

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEvent(t *testing.T) {
	const snap = 16
	slot := make([]byte, slotHeaderLen+snap)

	t.Run("payload within snap is stored whole", func(t *testing.T) {
		payload := []byte("abcdefgh")
		n := encodeEvent(slot, snap, 123456789, 8, payload)
		require.Equal(t, 8, n)

		var ev Event
		require.NoError(t, decodeEvent(slot, snap, &ev))
		assert.Equal(t, uint64(123456789), ev.Timestamp)
		assert.Equal(t, uint32(8), ev.PacketLen)
		assert.Equal(t, payload, ev.Payload)
	})

	t.Run("payload beyond snap is truncated", func(t *testing.T) {
		payload := make([]byte, 40)
		for i := range payload {
			payload[i] = byte(i + 1)
		}
		n := encodeEvent(slot, snap, 7, 40, payload)
		require.Equal(t, snap, n)

		var ev Event
		require.NoError(t, decodeEvent(slot, snap, &ev))
		assert.Equal(t, uint32(40), ev.PacketLen)
		assert.Equal(t, payload[:snap], ev.Payload)
	})

	t.Run("capture never exceeds the claimed wire length", func(t *testing.T) {
		payload := []byte("abcdefgh")
		n := encodeEvent(slot, snap, 7, 4, payload)
		require.Equal(t, 4, n)

		var ev Event
		require.NoError(t, decodeEvent(slot, snap, &ev))
		assert.Equal(t, uint32(4), ev.PacketLen)
		assert.Equal(t, payload[:4], ev.Payload)
	})

	t.Run("zero length event has empty payload", func(t *testing.T) {
		n := encodeEvent(slot, snap, 9, 0, nil)
		require.Equal(t, 0, n)

		var ev Event
		require.NoError(t, decodeEvent(slot, snap, &ev))
		assert.Equal(t, uint32(0), ev.PacketLen)
		assert.Empty(t, ev.Payload)
	})
}

func TestDecodeEvent_ReusesPayloadStorage(t *testing.T) {
	const snap = 16
	slot := make([]byte, slotHeaderLen+snap)
	encodeEvent(slot, snap, 1, 4, []byte("wxyz"))

	ev := Event{Payload: make([]byte, 0, snap)}
	backing := ev.Payload[:1]
	require.NoError(t, decodeEvent(slot, snap, &ev))
	assert.Equal(t, []byte("wxyz"), ev.Payload)
	assert.Same(t, &backing[0], &ev.Payload[0], "decode must reuse the payload buffer")
}

func TestDecodeEvent_ShortSlot(t *testing.T) {
	var ev Event
	err := decodeEvent(make([]byte, slotHeaderLen-1), 8, &ev)
	require.ErrorIs(t, err, ErrShortSlot)
}

func TestDecodeEvent_CorruptCaptureLength(t *testing.T) {
	const snap = 8
	slot := make([]byte, slotHeaderLen+snap)

	// Claim more captured bytes than the slot can hold.
	binary.LittleEndian.PutUint32(slot[slotCaptureOff:], snap+1)

	var ev Event
	err := decodeEvent(slot, snap, &ev)
	require.ErrorIs(t, err, ErrCorruptEvent)
}
