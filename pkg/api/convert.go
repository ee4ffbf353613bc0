package api

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/account"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/market"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/custody"
)

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", field, s)
	}
	return common.HexToAddress(s), nil
}

func toMarketInfo(st *market.State) MarketInfo {
	return MarketInfo{
		Address:   st.Address.Hex(),
		CoinMint:  st.CoinMint.Hex(),
		PcMint:    st.PcMint.Hex(),
		CoinVault: st.CoinVault.Hex(),
		PcVault:   st.PcVault.Hex(),
		Bids:      st.Bids.Hex(),
		Asks:      st.Asks.Hex(),
		Events:    st.Events.Hex(),
		Authority: st.Authority.Hex(),
	}
}

func toOrderInfo(o orderbook.Order) OrderInfo {
	return OrderInfo{
		OrderID:        o.OrderID,
		Owner:          o.Owner.Hex(),
		Side:           o.Side.String(),
		Price:          o.Price,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
	}
}

func toOrderInfos(orders []orderbook.Order) []OrderInfo {
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = toOrderInfo(o)
	}
	return out
}

func toEventInfo(e events.Event) EventInfo {
	return EventInfo{
		Type:           e.Type.String(),
		Side:           e.Side.String(),
		Maker:          e.Maker.Hex(),
		Taker:          e.Taker.Hex(),
		CoinQty:        e.CoinQty,
		PcQty:          e.PcQty,
		MakerOrderID:   e.MakerOrderID,
		MakerRemaining: e.MakerRemaining,
	}
}

func toEventInfos(evs []events.Event) []EventInfo {
	out := make([]EventInfo, len(evs))
	for i, e := range evs {
		out[i] = toEventInfo(e)
	}
	return out
}

func toLevels(levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, Size: l.Qty}
	}
	return out
}

func toTraderInfo(l *account.UserMarketAccount, refs []account.OpenOrderRef) TraderInfo {
	open := make([]OpenOrderInfo, len(refs))
	for i, r := range refs {
		open[i] = OpenOrderInfo{Side: r.Side.String(), OrderID: r.OrderID}
	}
	return TraderInfo{
		Owner:      l.Owner.Hex(),
		Market:     l.Market.Hex(),
		FreeCoin:   l.FreeCoin,
		LockedCoin: l.LockedCoin,
		FreePc:     l.FreePc,
		LockedPc:   l.LockedPc,
		OpenOrders: open,
	}
}

func toTokenAccountInfo(a custody.TokenAccount) TokenAccountInfo {
	return TokenAccountInfo{
		Address: a.Address.Hex(),
		Mint:    a.Mint.Hex(),
		Owner:   a.Owner.Hex(),
		Amount:  a.Amount,
	}
}
