package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Side is the book side an order rests on. The numeric values are part of
// the record layout.
type Side uint8

const (
	Bid Side = 0
	Ask Side = 1
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Valid reports whether s is Bid or Ask.
func (s Side) Valid() bool { return s == Bid || s == Ask }

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// ParseSide accepts "bid"/"buy" and "ask"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "bid", "buy":
		return Bid, nil
	case "ask", "sell":
		return Ask, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// Order is one resting intent to trade. Price is in pc units per unit of
// coin; Quantity and FilledQuantity are in coin units.
type Order struct {
	OrderID        uint64
	Owner          common.Address
	Market         common.Address
	Price          uint64
	Quantity       uint64
	FilledQuantity uint64
	Side           Side
}

// Remaining returns unfilled quantity
func (o *Order) Remaining() uint64 {
	return o.Quantity - o.FilledQuantity
}

// IsFilled reports whether nothing is left to match.
func (o *Order) IsFilled() bool {
	return o.FilledQuantity == o.Quantity
}
