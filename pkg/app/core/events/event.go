package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
)

// Type tags an Event.
type Type uint8

const (
	// Fill records a match between a resting maker order and a taker.
	Fill Type = 0
	// Out records an order remainder leaving the book without a fill.
	Out Type = 1
)

func (t Type) String() string {
	switch t {
	case Fill:
		return "fill"
	case Out:
		return "out"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Event is an immutable settlement notification. For Fill, Side is the
// side of the maker's book and quantities are at the maker's price. For Out,
// Taker equals Maker.
type Event struct {
	Type           Type
	Side           orderbook.Side
	Maker          common.Address
	Taker          common.Address
	CoinQty        uint64
	PcQty          uint64
	MakerOrderID   uint64
	MakerRemaining uint64
}
