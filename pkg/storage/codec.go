package storage

import (
	"encoding"
	"fmt"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/account"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/market"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/custody"
)

func encodeBinary(v encoding.BinaryMarshaler) ([]byte, error) {
	b, err := v.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

func decodeBook(b []byte) (*orderbook.OrderBook, error)      { return orderbook.Decode(b) }
func decodeQueue(b []byte) (*events.Queue, error)            { return events.Decode(b) }
func decodeOpenOrders(b []byte) (*account.OpenOrders, error) { return account.DecodeOpenOrders(b) }
func decodeLedger(b []byte) (*account.UserMarketAccount, error) {
	return account.DecodeUserMarketAccount(b)
}
func decodeMarket(b []byte) (*market.State, error)        { return market.Decode(b) }
func decodeToken(b []byte) (*custody.TokenAccount, error) { return custody.DecodeTokenAccount(b) }
