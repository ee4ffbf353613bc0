package orderbook

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// OrderSize is the packed length of one Order.
	OrderSize = 8 + common.AddressLength*2 + 8*3 + 1
	// HeaderSize is the packed length of the OrderBook header.
	HeaderSize = 1 + common.AddressLength + 8 + 2 + 2
)

var ErrMalformedRecord = errors.New("malformed order book record")

// Size returns the encoded length of a book with capacity slots.
func Size(capacity int) int { return HeaderSize + capacity*OrderSize }

func putOrder(buf []byte, o *Order) {
	binary.LittleEndian.PutUint64(buf[0:8], o.OrderID)
	copy(buf[8:28], o.Owner[:])
	copy(buf[28:48], o.Market[:])
	binary.LittleEndian.PutUint64(buf[48:56], o.Price)
	binary.LittleEndian.PutUint64(buf[56:64], o.Quantity)
	binary.LittleEndian.PutUint64(buf[64:72], o.FilledQuantity)
	buf[72] = byte(o.Side)
}

func getOrder(buf []byte) Order {
	var o Order
	o.OrderID = binary.LittleEndian.Uint64(buf[0:8])
	copy(o.Owner[:], buf[8:28])
	copy(o.Market[:], buf[28:48])
	o.Price = binary.LittleEndian.Uint64(buf[48:56])
	o.Quantity = binary.LittleEndian.Uint64(buf[56:64])
	o.FilledQuantity = binary.LittleEndian.Uint64(buf[64:72])
	o.Side = Side(buf[72])
	return o
}

// MarshalBinary encodes a single order.
func (o Order) MarshalBinary() ([]byte, error) {
	buf := make([]byte, OrderSize)
	putOrder(buf, &o)
	return buf, nil
}

// UnmarshalBinary decodes a single order.
func (o *Order) UnmarshalBinary(data []byte) error {
	if len(data) != OrderSize {
		return fmt.Errorf("%w: order is %d bytes, want %d", ErrMalformedRecord, len(data), OrderSize)
	}
	*o = getOrder(data)
	return nil
}

// MarshalBinary encodes the book including its unused slots, so the record
// length depends only on capacity.
func (b *OrderBook) MarshalBinary() ([]byte, error) {
	if len(b.orders) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: capacity %d exceeds u16", ErrMalformedRecord, len(b.orders))
	}
	buf := make([]byte, Size(len(b.orders)))
	buf[0] = byte(b.Side)
	copy(buf[1:21], b.Market[:])
	binary.LittleEndian.PutUint64(buf[21:29], b.NextOrderID)
	binary.LittleEndian.PutUint16(buf[29:31], uint16(len(b.orders)))
	binary.LittleEndian.PutUint16(buf[31:33], uint16(b.slotsFilled))
	off := HeaderSize
	for i := range b.orders {
		putOrder(buf[off:off+OrderSize], &b.orders[i])
		off += OrderSize
	}
	return buf, nil
}

// UnmarshalBinary replaces b with the decoded record.
func (b *OrderBook) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformedRecord, len(data), HeaderSize)
	}
	side := Side(data[0])
	if !side.Valid() {
		return fmt.Errorf("%w: invalid side %d", ErrMalformedRecord, data[0])
	}
	capacity := int(binary.LittleEndian.Uint16(data[29:31]))
	filled := int(binary.LittleEndian.Uint16(data[31:33]))
	if filled > capacity {
		return fmt.Errorf("%w: slots_filled %d > capacity %d", ErrMalformedRecord, filled, capacity)
	}
	if len(data) != Size(capacity) {
		return fmt.Errorf("%w: %d bytes, capacity %d needs %d", ErrMalformedRecord, len(data), capacity, Size(capacity))
	}

	b.Side = side
	copy(b.Market[:], data[1:21])
	b.NextOrderID = binary.LittleEndian.Uint64(data[21:29])
	b.orders = make([]Order, capacity)
	b.slotsFilled = filled
	off := HeaderSize
	for i := range b.orders {
		b.orders[i] = getOrder(data[off : off+OrderSize])
		off += OrderSize
	}
	return nil
}

// Decode is a convenience wrapper around UnmarshalBinary.
func Decode(data []byte) (*OrderBook, error) {
	b := &OrderBook{}
	if err := b.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return b, nil
}
