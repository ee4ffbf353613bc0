package spot

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/account"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
)

// CreateOrderRequest places a limit order for CoinQty at LimitPrice. A bid
// is funded with PcQty, which must cover CoinQty*LimitPrice; an ask is
// funded with CoinQty and PcQty is ignored. Whatever the owner's free
// balance does not cover is pulled from Payer, a token account owned by
// Owner.
type CreateOrderRequest struct {
	Owner      common.Address
	Payer      common.Address
	Side       orderbook.Side
	LimitPrice uint64
	CoinQty    uint64
	PcQty      uint64
}

// CreateOrderResult describes what a placement did. OrderID is only
// assigned when a remainder rests.
type CreateOrderResult struct {
	OrderID       uint64
	Fills         []events.Event
	FilledQty     uint64
	RestingQty    uint64
	Deposited     uint64
	DroppedEvents int
}

// Rested reports whether a remainder was inserted into the book.
func (r *CreateOrderResult) Rested() bool { return r.RestingQty > 0 }

func (e *Engine) validateCreate(req *CreateOrderRequest) error {
	if !req.Side.Valid() {
		return fmt.Errorf("%w: side %d", ErrInvalidArgument, req.Side)
	}
	if req.CoinQty == 0 {
		return fmt.Errorf("%w: zero coin quantity", ErrInvalidArgument)
	}
	if req.LimitPrice == 0 {
		return fmt.Errorf("%w: zero limit price", ErrInvalidArgument)
	}
	hi, notional := bits.Mul64(req.CoinQty, req.LimitPrice)
	if hi != 0 {
		return fmt.Errorf("%w: %d x %d overflows", ErrInvalidArgument, req.CoinQty, req.LimitPrice)
	}
	if req.Side == orderbook.Bid && req.PcQty < notional {
		return fmt.Errorf("%w: pc quantity %d below %d x %d", ErrInvalidArgument, req.PcQty, req.CoinQty, req.LimitPrice)
	}
	return nil
}

// checkLockHeadroom rejects an order whose funding would overflow the
// owner's locked balance. The surplus a bid unlocks afterwards never exceeds
// what free held before the lock, so free cannot overflow.
func checkLockHeadroom(ledger *account.UserMarketAccount, req *CreateOrderRequest) error {
	locked, fund := ledger.LockedPc, req.PcQty
	if req.Side == orderbook.Ask {
		locked, fund = ledger.LockedCoin, req.CoinQty
	}
	if locked+fund < locked {
		return fmt.Errorf("%w: locking %d on top of %d overflows", ErrInvalidArgument, fund, locked)
	}
	return nil
}

// CreateOrder matches the order against the opposite book at maker prices,
// emits one Fill per matched maker order and rests any remainder in the
// owner's book. The funding shortfall is transferred into the vault last;
// records are only updated once it succeeds.
func (e *Engine) CreateOrder(m *Market, t *Trader, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := e.validateCreate(&req); err != nil {
		return nil, err
	}
	if err := validateMarket(m); err != nil {
		return nil, err
	}
	if err := validateTrader(m, t, req.Owner, true); err != nil {
		return nil, err
	}
	if err := checkLockHeadroom(t.Ledger, &req); err != nil {
		return nil, err
	}

	bids := m.Bids.Clone()
	asks := m.Asks.Clone()
	queue := m.Events.Clone()
	trader := t.clone()
	ledger := trader.Ledger

	takerBook, makerBook := bids, asks
	if req.Side == orderbook.Ask {
		takerBook, makerBook = asks, bids
	}

	// funding
	var fund, free uint64
	if req.Side == orderbook.Bid {
		fund, free = req.PcQty, ledger.FreePc
	} else {
		fund, free = req.CoinQty, ledger.FreeCoin
	}
	fromFree := min(fund, free)
	shortfall := fund - fromFree

	res := &CreateOrderResult{}

	// matching
	remaining := req.CoinQty
	var spentPc uint64
	var filled []int
	for i := 0; i < makerBook.Len() && remaining > 0; i++ {
		maker := makerBook.At(i)
		if !makerBook.Crosses(req.LimitPrice, maker.Price) {
			break
		}
		qty := min(maker.Remaining(), remaining)
		maker.FilledQuantity += qty
		remaining -= qty
		pc := qty * maker.Price
		spentPc += pc
		if maker.IsFilled() {
			filled = append(filled, i)
		}
		res.Fills = append(res.Fills, events.Event{
			Type:           events.Fill,
			Side:           makerBook.Side,
			Maker:          maker.Owner,
			Taker:          req.Owner,
			CoinQty:        qty,
			PcQty:          pc,
			MakerOrderID:   maker.OrderID,
			MakerRemaining: maker.Remaining(),
		})
	}
	for j := len(filled) - 1; j >= 0; j-- {
		if err := makerBook.RemoveOrder(filled[j]); err != nil {
			return nil, err
		}
	}
	res.FilledQty = req.CoinQty - remaining

	if remaining > 0 {
		if takerBook.IsFull() {
			return nil, fmt.Errorf("%w: %s book holds %d orders", ErrCapacityExceeded, req.Side, takerBook.Len())
		}
		if trader.OpenOrders.IsFull() {
			return nil, fmt.Errorf("%w: %s has %d open orders", ErrCapacityExceeded, req.Owner.Hex(), trader.OpenOrders.Len())
		}
		res.OrderID = takerBook.AllocateOrderID()
		err := takerBook.AddOrder(orderbook.Order{
			OrderID:  res.OrderID,
			Owner:    req.Owner,
			Market:   m.State.Address,
			Price:    req.LimitPrice,
			Quantity: remaining,
			Side:     req.Side,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
		}
		if err := trader.OpenOrders.Add(req.Side, res.OrderID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
		}
		res.RestingQty = remaining
	}

	// ledger
	if req.Side == orderbook.Bid {
		ledger.LockFreePc(fromFree)
		ledger.CreditLockedPc(shortfall)
		need := spentPc + remaining*req.LimitPrice
		ledger.UnlockPc(req.PcQty - need)
	} else {
		ledger.LockFreeCoin(fromFree)
		ledger.CreditLockedCoin(shortfall)
	}

	for _, ev := range res.Fills {
		if !e.enqueue(queue, ev) {
			res.DroppedEvents++
		}
	}

	if shortfall > 0 {
		vault := m.State.PcVault
		if req.Side == orderbook.Ask {
			vault = m.State.CoinVault
		}
		if err := e.custody.Transfer(req.Payer, vault, req.Owner, shortfall); err != nil {
			e.logger.Info("order_funding_failed",
				zap.String("owner", req.Owner.Hex()),
				zap.Uint64("shortfall", shortfall),
				zap.Error(err))
			return nil, transferError(err)
		}
		res.Deposited = shortfall
	}

	*m.Bids = *bids
	*m.Asks = *asks
	*m.Events = *queue
	t.commit(trader)

	e.logger.Debug("order_created",
		zap.String("market", m.State.Address.Hex()),
		zap.String("owner", req.Owner.Hex()),
		zap.Stringer("side", req.Side),
		zap.Uint64("order_id", res.OrderID),
		zap.Uint64("limit_price", req.LimitPrice),
		zap.Uint64("coin_qty", req.CoinQty),
		zap.Int("fills", len(res.Fills)),
		zap.Uint64("resting_qty", res.RestingQty))
	return res, nil
}

// IsValidation reports whether err was rejected before any work was done.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrSideMismatch) ||
		errors.Is(err, ErrMarketMismatch) ||
		errors.Is(err, ErrOwnerMismatch)
}
