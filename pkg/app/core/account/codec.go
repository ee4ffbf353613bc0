package account

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// OpenOrdersSize is the packed length of an OpenOrders record.
const OpenOrdersSize = common.AddressLength*2 + OpenOrdersCapacity*8 + 1 + 1

var ErrMalformedRecord = errors.New("malformed account record")

// EncodeUserMarketAccount returns the RLP encoding of a.
func EncodeUserMarketAccount(a *UserMarketAccount) ([]byte, error) {
	return rlp.EncodeToBytes(a)
}

// DecodeUserMarketAccount parses an RLP encoded ledger.
func DecodeUserMarketAccount(data []byte) (*UserMarketAccount, error) {
	var a UserMarketAccount
	if err := rlp.DecodeBytes(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return &a, nil
}

// MarshalBinary encodes the index in its fixed packed layout.
func (o *OpenOrders) MarshalBinary() ([]byte, error) {
	buf := make([]byte, OpenOrdersSize)
	copy(buf[0:20], o.Owner[:])
	copy(buf[20:40], o.Market[:])
	off := 40
	for _, v := range o.OrderIDs {
		binary.LittleEndian.PutUint64(buf[off:off+8], v)
		off += 8
	}
	buf[off] = o.NextIndex
	buf[off+1] = o.Bump
	return buf, nil
}

// UnmarshalBinary replaces o with the decoded record.
func (o *OpenOrders) UnmarshalBinary(data []byte) error {
	if len(data) != OpenOrdersSize {
		return fmt.Errorf("%w: open orders is %d bytes, want %d", ErrMalformedRecord, len(data), OpenOrdersSize)
	}
	next := data[OpenOrdersSize-2]
	if int(next) > OpenOrdersCapacity {
		return fmt.Errorf("%w: next index %d", ErrMalformedRecord, next)
	}
	copy(o.Owner[:], data[0:20])
	copy(o.Market[:], data[20:40])
	off := 40
	for i := range o.OrderIDs {
		o.OrderIDs[i] = binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
	}
	o.NextIndex = next
	o.Bump = data[OpenOrdersSize-1]
	return nil
}

// DecodeOpenOrders is a convenience wrapper around UnmarshalBinary.
func DecodeOpenOrders(data []byte) (*OpenOrders, error) {
	o := &OpenOrders{}
	if err := o.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return o, nil
}
