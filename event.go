package pktcap

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Ring slots share one fixed little-endian layout between the producer and
// the consumer. The payload area is sized by the ring's snap length.
//
//	[0:8)   timestamp, monotonic nanoseconds since the hook epoch
//	[8:12)  packet length on the wire
//	[12:16) capture length, payload bytes actually stored
//	[16:)   payload, snap length bytes reserved
const (
	slotHeaderLen = 16

	slotTimestampOff = 0
	slotPacketLenOff = 8
	slotCaptureOff   = 12
)

// MaxSnapLen is the largest supported truncation length per captured packet.
const MaxSnapLen = 65535

var (
	// ErrShortSlot reports a slot smaller than the fixed event header.
	ErrShortSlot = errors.New("event slot shorter than header")

	// ErrCorruptEvent reports a slot whose header contradicts the ring
	// geometry. Consuming past such a slot skips it.
	ErrCorruptEvent = errors.New("corrupt event slot")
)

// Event is one captured packet record. PacketLen is the original frame
// length on the wire and may exceed len(Payload) when the frame was
// truncated to the ring's snap length. An event is written once by the
// producer and read once by the consumer; transfer is by copy, never by
// shared mutable state.
type Event struct {
	Timestamp uint64 // monotonic nanoseconds since the hook epoch
	PacketLen uint32 // frame length on the wire
	Payload   []byte // truncated frame prefix, len() <= snap length
}

// encodeEvent writes one event into slot, truncating payload to at most snap
// bytes and never more than packetLen. It returns the stored payload length.
func encodeEvent(slot []byte, snap int, ts uint64, packetLen uint32, payload []byte) int {
	n := len(payload)
	if n > snap {
		n = snap
	}
	if uint64(n) > uint64(packetLen) {
		n = int(packetLen)
	}
	binary.LittleEndian.PutUint64(slot[slotTimestampOff:], ts)
	binary.LittleEndian.PutUint32(slot[slotPacketLenOff:], packetLen)
	binary.LittleEndian.PutUint32(slot[slotCaptureOff:], uint32(n))
	copy(slot[slotHeaderLen:], payload[:n])
	return n
}

// decodeEvent copies one event out of slot into ev, reusing ev's payload
// storage. The capture length is validated against the ring geometry so a
// damaged slot cannot make the consumer read out of bounds.
func decodeEvent(slot []byte, snap int, ev *Event) error {
	if len(slot) < slotHeaderLen {
		return ErrShortSlot
	}
	capLen := binary.LittleEndian.Uint32(slot[slotCaptureOff:])
	if int64(capLen) > int64(snap) || int(capLen) > len(slot)-slotHeaderLen {
		return errors.WithMessagef(ErrCorruptEvent, "capture length %d exceeds snap length %d", capLen, snap)
	}
	ev.Timestamp = binary.LittleEndian.Uint64(slot[slotTimestampOff:])
	ev.PacketLen = binary.LittleEndian.Uint32(slot[slotPacketLenOff:])
	ev.Payload = append(ev.Payload[:0], slot[slotHeaderLen:slotHeaderLen+int(capLen)]...)
	return nil
}
