package events

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
)

const (
	// EventSize is the packed length of one Event.
	EventSize = 1 + 1 + common.AddressLength*2 + 8*4
	// QueueSize is the packed length of the whole queue record.
	QueueSize = common.AddressLength + 2 + 2 + MaxEvent*EventSize
)

var ErrMalformedRecord = errors.New("malformed event queue record")

func putEvent(buf []byte, e *Event) {
	buf[0] = byte(e.Type)
	buf[1] = byte(e.Side)
	copy(buf[2:22], e.Maker[:])
	copy(buf[22:42], e.Taker[:])
	binary.LittleEndian.PutUint64(buf[42:50], e.CoinQty)
	binary.LittleEndian.PutUint64(buf[50:58], e.PcQty)
	binary.LittleEndian.PutUint64(buf[58:66], e.MakerOrderID)
	binary.LittleEndian.PutUint64(buf[66:74], e.MakerRemaining)
}

func getEvent(buf []byte) Event {
	var e Event
	e.Type = Type(buf[0])
	e.Side = orderbook.Side(buf[1])
	copy(e.Maker[:], buf[2:22])
	copy(e.Taker[:], buf[22:42])
	e.CoinQty = binary.LittleEndian.Uint64(buf[42:50])
	e.PcQty = binary.LittleEndian.Uint64(buf[50:58])
	e.MakerOrderID = binary.LittleEndian.Uint64(buf[58:66])
	e.MakerRemaining = binary.LittleEndian.Uint64(buf[66:74])
	return e
}

// MarshalBinary encodes a single event.
func (e Event) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EventSize)
	putEvent(buf, &e)
	return buf, nil
}

// UnmarshalBinary decodes a single event.
func (e *Event) UnmarshalBinary(data []byte) error {
	if len(data) != EventSize {
		return fmt.Errorf("%w: event is %d bytes, want %d", ErrMalformedRecord, len(data), EventSize)
	}
	*e = getEvent(data)
	return nil
}

// MarshalBinary encodes the ring including consumed slots.
func (q *Queue) MarshalBinary() ([]byte, error) {
	buf := make([]byte, QueueSize)
	copy(buf[0:20], q.Market[:])
	binary.LittleEndian.PutUint16(buf[20:22], q.head)
	binary.LittleEndian.PutUint16(buf[22:24], q.tail)
	off := 24
	for i := range q.events {
		putEvent(buf[off:off+EventSize], &q.events[i])
		off += EventSize
	}
	return buf, nil
}

// UnmarshalBinary replaces q with the decoded record.
func (q *Queue) UnmarshalBinary(data []byte) error {
	if len(data) != QueueSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrMalformedRecord, len(data), QueueSize)
	}
	head := binary.LittleEndian.Uint16(data[20:22])
	tail := binary.LittleEndian.Uint16(data[22:24])
	if head >= MaxEvent || tail >= MaxEvent {
		return fmt.Errorf("%w: head %d tail %d", ErrMalformedRecord, head, tail)
	}
	copy(q.Market[:], data[0:20])
	q.head, q.tail = head, tail
	off := 24
	for i := range q.events {
		q.events[i] = getEvent(data[off : off+EventSize])
		off += EventSize
	}
	return nil
}

// Decode is a convenience wrapper around UnmarshalBinary.
func Decode(data []byte) (*Queue, error) {
	q := &Queue{}
	if err := q.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return q, nil
}
