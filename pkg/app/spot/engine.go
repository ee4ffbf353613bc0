package spot

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/account"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/market"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/util"
)

// Transferer moves amount of a token from one custody account to another.
// authority must own the source account.
type Transferer interface {
	Transfer(from, to, authority common.Address, amount uint64) error
	// CheckDestination fails unless addr exists, holds mint and belongs
	// to owner.
	CheckDestination(addr, mint, owner common.Address) error
}

// Market bundles the records of one market that a request may touch.
type Market struct {
	State  *market.State
	Bids   *orderbook.OrderBook
	Asks   *orderbook.OrderBook
	Events *events.Queue
}

// Book returns the book of side.
func (m *Market) Book(side orderbook.Side) *orderbook.OrderBook {
	if side == orderbook.Bid {
		return m.Bids
	}
	return m.Asks
}

// Trader bundles an owner's ledger and open-order index in one market.
type Trader struct {
	Ledger     *account.UserMarketAccount
	OpenOrders *account.OpenOrders
}

func (t *Trader) clone() *Trader {
	cp := &Trader{Ledger: t.Ledger.Clone()}
	if t.OpenOrders != nil {
		cp.OpenOrders = t.OpenOrders.Clone()
	}
	return cp
}

func (t *Trader) commit(staged *Trader) {
	*t.Ledger = *staged.Ledger
	if t.OpenOrders != nil {
		*t.OpenOrders = *staged.OpenOrders
	}
}

// Engine runs the four market operations. Every operation works on staged
// copies and writes them back to the caller's records only on success, so a
// failed call leaves every record as it was.
//
// Engine holds no lock. The caller serializes requests per market.
type Engine struct {
	program common.Address
	custody Transferer
	logger  *zap.Logger
}

// NewEngine returns an engine deriving record addresses under program.
func NewEngine(program common.Address, custody Transferer, logger *zap.Logger) *Engine {
	return &Engine{
		program: program,
		custody: custody,
		logger:  util.OrNop(logger),
	}
}

// Program returns the address records are derived under.
func (e *Engine) Program() common.Address { return e.program }

func validateMarket(m *Market) error {
	if m == nil || m.State == nil || m.Bids == nil || m.Asks == nil || m.Events == nil {
		return fmt.Errorf("%w: incomplete market records", ErrInvalidArgument)
	}
	addr := m.State.Address
	if m.Bids.Market != addr || m.Asks.Market != addr || m.Events.Market != addr {
		return fmt.Errorf("%w: satellite records do not belong to %s", ErrMarketMismatch, addr.Hex())
	}
	if m.Bids.Side != orderbook.Bid || m.Asks.Side != orderbook.Ask {
		return fmt.Errorf("%w: bids record is %s, asks record is %s", ErrSideMismatch, m.Bids.Side, m.Asks.Side)
	}
	return nil
}

func validateTrader(m *Market, t *Trader, owner common.Address, needOpenOrders bool) error {
	if t == nil || t.Ledger == nil || (needOpenOrders && t.OpenOrders == nil) {
		return fmt.Errorf("%w: trader records for %s", ErrMissingAccount, owner.Hex())
	}
	if t.Ledger.Market != m.State.Address {
		return fmt.Errorf("%w: ledger belongs to %s", ErrMarketMismatch, t.Ledger.Market.Hex())
	}
	if t.Ledger.Owner != owner {
		return fmt.Errorf("%w: ledger owned by %s", ErrOwnerMismatch, t.Ledger.Owner.Hex())
	}
	if t.OpenOrders != nil {
		if t.OpenOrders.Market != m.State.Address {
			return fmt.Errorf("%w: open orders belong to %s", ErrMarketMismatch, t.OpenOrders.Market.Hex())
		}
		if t.OpenOrders.Owner != owner {
			return fmt.Errorf("%w: open orders owned by %s", ErrOwnerMismatch, t.OpenOrders.Owner.Hex())
		}
	}
	return nil
}

// enqueue appends ev and logs when the full queue drops it.
func (e *Engine) enqueue(q *events.Queue, ev events.Event) bool {
	if q.Enqueue(ev) {
		return true
	}
	e.logger.Warn("event_queue_full",
		zap.String("market", q.Market.Hex()),
		zap.Stringer("type", ev.Type),
		zap.Uint64("maker_order_id", ev.MakerOrderID),
		zap.Int("queue_size", q.Size()))
	return false
}
