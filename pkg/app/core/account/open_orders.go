package account

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
)

// OpenOrdersCapacity is the number of resting orders one owner may hold per
// market.
const OpenOrdersCapacity = 64

const sideBit = uint64(1) << 63

var (
	ErrOpenOrdersFull    = errors.New("open order index full")
	ErrOpenOrderNotFound = errors.New("order not in open order index")
)

// EncodeSideOrderID packs side into the top bit of id.
func EncodeSideOrderID(side orderbook.Side, id uint64) uint64 {
	id &^= sideBit
	if side == orderbook.Ask {
		id |= sideBit
	}
	return id
}

// DecodeSideOrderID splits an encoded id back into side and plain id.
func DecodeSideOrderID(v uint64) (orderbook.Side, uint64) {
	if v&sideBit != 0 {
		return orderbook.Ask, v &^ sideBit
	}
	return orderbook.Bid, v
}

// OpenOrders indexes an owner's resting orders in one market.
// OrderIDs[0:NextIndex] holds side-encoded ids in placement order.
type OpenOrders struct {
	Owner     common.Address
	Market    common.Address
	OrderIDs  [OpenOrdersCapacity]uint64
	NextIndex uint8
	Bump      uint8
}

// NewOpenOrders returns an empty index.
func NewOpenOrders(owner, market common.Address, bump uint8) *OpenOrders {
	return &OpenOrders{Owner: owner, Market: market, Bump: bump}
}

func (o *OpenOrders) Len() int { return int(o.NextIndex) }

func (o *OpenOrders) IsFull() bool { return o.Len() >= OpenOrdersCapacity }

func (o *OpenOrders) indexOf(side orderbook.Side, id uint64) int {
	enc := EncodeSideOrderID(side, id)
	for i := 0; i < o.Len(); i++ {
		if o.OrderIDs[i] == enc {
			return i
		}
	}
	return -1
}

// Contains reports whether the (side, id) order is indexed.
func (o *OpenOrders) Contains(side orderbook.Side, id uint64) bool {
	return o.indexOf(side, id) >= 0
}

// Add appends the (side, id) order.
func (o *OpenOrders) Add(side orderbook.Side, id uint64) error {
	if o.IsFull() {
		return fmt.Errorf("%w: %d orders", ErrOpenOrdersFull, o.Len())
	}
	o.OrderIDs[o.NextIndex] = EncodeSideOrderID(side, id)
	o.NextIndex++
	return nil
}

// Remove drops the (side, id) order and closes the gap.
func (o *OpenOrders) Remove(side orderbook.Side, id uint64) error {
	i := o.indexOf(side, id)
	if i < 0 {
		return fmt.Errorf("%w: %s %d", ErrOpenOrderNotFound, side, id)
	}
	n := o.Len()
	copy(o.OrderIDs[i:n-1], o.OrderIDs[i+1:n])
	o.NextIndex--
	o.OrderIDs[o.NextIndex] = 0
	return nil
}

// OpenOrderRef is a decoded index entry.
type OpenOrderRef struct {
	Side    orderbook.Side
	OrderID uint64
}

// Refs returns the decoded entries in placement order.
func (o *OpenOrders) Refs() []OpenOrderRef {
	out := make([]OpenOrderRef, 0, o.Len())
	for i := 0; i < o.Len(); i++ {
		side, id := DecodeSideOrderID(o.OrderIDs[i])
		out = append(out, OpenOrderRef{Side: side, OrderID: id})
	}
	return out
}

// Clone returns a copy.
func (o *OpenOrders) Clone() *OpenOrders {
	cp := *o
	return &cp
}
