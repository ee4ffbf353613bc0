package orderbook

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DesignCapacity is the number of order slots of a production book.
	DesignCapacity = 1024
	// TestCapacity keeps books small for cheap tests.
	TestCapacity = 10
)

var (
	ErrBookFull        = errors.New("order book full")
	ErrIndexOutOfRange = errors.New("order index out of range")
	ErrOrderNotFound   = errors.New("order not found")
	ErrUnauthorized    = errors.New("order owned by another account")
	ErrWrongSide       = errors.New("order side does not match book side")
)

// PriceLevel aggregates the unfilled quantity resting at one price.
type PriceLevel struct {
	Price uint64
	Qty   uint64
}

// OrderBook is one side of a market: a fixed-capacity array whose active
// prefix orders[0:slotsFilled] is kept in priority order. Bids are sorted by
// descending price, asks by ascending price, and orders at the same price
// keep their arrival order.
//
// OrderBook carries no lock; callers own it exclusively for the duration of
// a request.
type OrderBook struct {
	Side        Side
	Market      common.Address
	NextOrderID uint64

	orders      []Order
	slotsFilled int
}

// New returns an empty book with capacity slots.
func New(side Side, market common.Address, capacity int) *OrderBook {
	if capacity <= 0 {
		capacity = DesignCapacity
	}
	return &OrderBook{
		Side:   side,
		Market: market,
		orders: make([]Order, capacity),
	}
}

// Capacity returns the fixed number of order slots.
func (b *OrderBook) Capacity() int { return len(b.orders) }

// Len returns the number of active orders.
func (b *OrderBook) Len() int { return b.slotsFilled }

// IsFull reports whether another order can be inserted.
func (b *OrderBook) IsFull() bool { return b.slotsFilled >= len(b.orders) }

// At returns a pointer to the active order at index i so that matching can
// update FilledQuantity in place. It panics when i is outside the active range.
func (b *OrderBook) At(i int) *Order {
	if i < 0 || i >= b.slotsFilled {
		panic(fmt.Sprintf("orderbook: index %d outside active range [0,%d)", i, b.slotsFilled))
	}
	return &b.orders[i]
}

// Orders returns a copy of the active orders in priority order.
func (b *OrderBook) Orders() []Order {
	out := make([]Order, b.slotsFilled)
	copy(out, b.orders[:b.slotsFilled])
	return out
}

// Clone returns a deep copy of the book.
func (b *OrderBook) Clone() *OrderBook {
	cp := *b
	cp.orders = make([]Order, len(b.orders))
	copy(cp.orders, b.orders)
	return &cp
}

// AllocateOrderID returns the next order id and advances the counter. Ids
// are never reused.
func (b *OrderBook) AllocateOrderID() uint64 {
	id := b.NextOrderID
	b.NextOrderID++
	return id
}

// Crosses reports whether a taker limit price on the opposite side can
// trade against a resting price on this book.
func (b *OrderBook) Crosses(limitPrice, restingPrice uint64) bool {
	if b.Side == Ask {
		// taker is a bid
		return limitPrice >= restingPrice
	}
	return limitPrice <= restingPrice
}

// insertionIndex returns the first index whose order has strictly lower
// priority than a new order at price, which places the new order after
// every existing order of the same price.
func (b *OrderBook) insertionIndex(price uint64) int {
	active := b.orders[:b.slotsFilled]
	if b.Side == Bid {
		return sort.Search(len(active), func(i int) bool { return active[i].Price < price })
	}
	return sort.Search(len(active), func(i int) bool { return active[i].Price > price })
}

// AddOrder inserts o at its price-time position.
func (b *OrderBook) AddOrder(o Order) error {
	if o.Side != b.Side {
		return fmt.Errorf("%w: order %d is %s, book is %s", ErrWrongSide, o.OrderID, o.Side, b.Side)
	}
	if b.IsFull() {
		return fmt.Errorf("%w: %s book holds %d orders", ErrBookFull, b.Side, b.slotsFilled)
	}

	if b.slotsFilled == 0 {
		b.orders[0] = o
		b.slotsFilled = 1
		return nil
	}

	idx := b.insertionIndex(o.Price)
	copy(b.orders[idx+1:b.slotsFilled+1], b.orders[idx:b.slotsFilled])
	b.orders[idx] = o
	b.slotsFilled++
	return nil
}

// RemoveOrder deletes the active order at index, closing the gap.
func (b *OrderBook) RemoveOrder(index int) error {
	if index < 0 || index >= b.slotsFilled {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, b.slotsFilled)
	}
	copy(b.orders[index:b.slotsFilled-1], b.orders[index+1:b.slotsFilled])
	b.slotsFilled--
	b.orders[b.slotsFilled] = Order{}
	return nil
}

// FindOrder returns the index of the active order with orderID.
func (b *OrderBook) FindOrder(orderID uint64) (int, bool) {
	for i := 0; i < b.slotsFilled; i++ {
		if b.orders[i].OrderID == orderID {
			return i, true
		}
	}
	return -1, false
}

// SafelyRemoveOrderByOrderID removes the order with orderID if owner owns
// it, and returns the removed record.
func (b *OrderBook) SafelyRemoveOrderByOrderID(orderID uint64, owner common.Address) (Order, error) {
	idx, ok := b.FindOrder(orderID)
	if !ok {
		return Order{}, fmt.Errorf("%w: %s order %d", ErrOrderNotFound, b.Side, orderID)
	}
	removed := b.orders[idx]
	if removed.Owner != owner {
		return Order{}, fmt.Errorf("%w: %s order %d", ErrUnauthorized, b.Side, orderID)
	}
	if err := b.RemoveOrder(idx); err != nil {
		return Order{}, err
	}
	return removed, nil
}

// Levels aggregates the active orders by price, best price first.
func (b *OrderBook) Levels() []PriceLevel {
	var levels []PriceLevel
	for i := 0; i < b.slotsFilled; i++ {
		o := &b.orders[i]
		if n := len(levels); n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].Qty += o.Remaining()
			continue
		}
		levels = append(levels, PriceLevel{Price: o.Price, Qty: o.Remaining()})
	}
	return levels
}

// Best returns the highest priority order.
func (b *OrderBook) Best() (Order, bool) {
	if b.slotsFilled == 0 {
		return Order{}, false
	}
	return b.orders[0], true
}
