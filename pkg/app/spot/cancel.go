package spot

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/account"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
)

// CancelOrderRequest identifies a resting order by book side and id.
type CancelOrderRequest struct {
	Owner   common.Address
	Side    orderbook.Side
	OrderID uint64
}

// CancelOrderResult carries the removed order and its Out event.
type CancelOrderResult struct {
	Order   orderbook.Order
	Event   events.Event
	Dropped bool
}

// CancelOrder removes an owner's resting order, unlocks the funds backing
// its unfilled remainder and emits an Out event for it.
func (e *Engine) CancelOrder(m *Market, t *Trader, req CancelOrderRequest) (*CancelOrderResult, error) {
	if !req.Side.Valid() {
		return nil, fmt.Errorf("%w: side %d", ErrInvalidArgument, req.Side)
	}
	if err := validateMarket(m); err != nil {
		return nil, err
	}
	if err := validateTrader(m, t, req.Owner, false); err != nil {
		return nil, err
	}

	book := m.Book(req.Side).Clone()
	if book.Side != req.Side {
		return nil, fmt.Errorf("%w: request %s, book %s", ErrSideMismatch, req.Side, book.Side)
	}
	queue := m.Events.Clone()
	trader := t.clone()

	removed, err := book.SafelyRemoveOrderByOrderID(req.OrderID, req.Owner)
	switch {
	case errors.Is(err, orderbook.ErrOrderNotFound):
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, orderbook.ErrUnauthorized):
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case err != nil:
		return nil, err
	}

	remainder := removed.Remaining()
	ev := events.Event{
		Type:         events.Out,
		Side:         removed.Side,
		Maker:        req.Owner,
		Taker:        req.Owner,
		CoinQty:      remainder,
		PcQty:        remainder * removed.Price,
		MakerOrderID: removed.OrderID,
	}

	if removed.Side == orderbook.Bid {
		trader.Ledger.UnlockPc(ev.PcQty)
	} else {
		trader.Ledger.UnlockCoin(remainder)
	}
	if trader.OpenOrders != nil {
		if err := trader.OpenOrders.Remove(removed.Side, removed.OrderID); err != nil && !errors.Is(err, account.ErrOpenOrderNotFound) {
			return nil, err
		}
	}

	res := &CancelOrderResult{Order: removed, Event: ev}
	res.Dropped = !e.enqueue(queue, ev)

	if req.Side == orderbook.Bid {
		*m.Bids = *book
	} else {
		*m.Asks = *book
	}
	*m.Events = *queue
	t.commit(trader)

	e.logger.Debug("order_cancelled",
		zap.String("market", m.State.Address.Hex()),
		zap.String("owner", req.Owner.Hex()),
		zap.Stringer("side", req.Side),
		zap.Uint64("order_id", req.OrderID),
		zap.Uint64("remainder", remainder))
	return res, nil
}
