package spot

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/crypto"
)

// ConsumeResult lists the drained events, oldest first.
type ConsumeResult struct {
	Events []events.Event
}

// LedgerAddress is the key ConsumeEvents looks traders up by.
func (e *Engine) LedgerAddress(market, owner common.Address) common.Address {
	return crypto.UserMarketAddress(e.program, market, owner)
}

// ConsumeEvents drains up to drainCount events and settles each Fill into
// the maker and taker ledgers. traders is keyed by ledger address. The drain
// is all or nothing: if any referenced ledger is missing, no event is
// dequeued and no ledger changes.
func (e *Engine) ConsumeEvents(m *Market, traders map[common.Address]*Trader, drainCount int) (*ConsumeResult, error) {
	if drainCount <= 0 {
		return nil, fmt.Errorf("%w: drain count %d", ErrInvalidArgument, drainCount)
	}
	if err := validateMarket(m); err != nil {
		return nil, err
	}

	queue := m.Events.Clone()
	staged := make(map[common.Address]*Trader)
	lookup := func(owner common.Address) (*Trader, error) {
		addr := e.LedgerAddress(m.State.Address, owner)
		if st, ok := staged[addr]; ok {
			return st, nil
		}
		t, ok := traders[addr]
		if !ok || t == nil || t.Ledger == nil {
			return nil, fmt.Errorf("%w: ledger %s of %s", ErrMissingAccount, addr.Hex(), owner.Hex())
		}
		if err := validateTrader(m, t, owner, false); err != nil {
			return nil, err
		}
		st := t.clone()
		staged[addr] = st
		return st, nil
	}

	res := &ConsumeResult{}
	for i := 0; i < drainCount; i++ {
		ev, ok := queue.Dequeue()
		if !ok {
			break
		}
		if ev.Type == events.Fill {
			maker, err := lookup(ev.Maker)
			if err != nil {
				return nil, err
			}
			taker, err := lookup(ev.Taker)
			if err != nil {
				return nil, err
			}
			e.settleFill(maker, taker, &ev)
		}
		res.Events = append(res.Events, ev)
	}

	*m.Events = *queue
	for addr, st := range staged {
		traders[addr].commit(st)
	}

	e.logger.Debug("events_consumed",
		zap.String("market", m.State.Address.Hex()),
		zap.Int("drained", len(res.Events)),
		zap.Int("pending", queue.Size()))
	return res, nil
}

// settleFill moves the traded amounts out of each side's locked balance
// and into the counterparty's free balance.
func (e *Engine) settleFill(maker, taker *Trader, ev *events.Event) {
	if ev.Side == orderbook.Bid {
		maker.Ledger.DebitLockedPc(ev.PcQty)
		maker.Ledger.CreditFreeCoin(ev.CoinQty)
		taker.Ledger.DebitLockedCoin(ev.CoinQty)
		taker.Ledger.CreditFreePc(ev.PcQty)
	} else {
		maker.Ledger.DebitLockedCoin(ev.CoinQty)
		maker.Ledger.CreditFreePc(ev.PcQty)
		taker.Ledger.DebitLockedPc(ev.PcQty)
		taker.Ledger.CreditFreeCoin(ev.CoinQty)
	}
	if ev.MakerRemaining == 0 && maker.OpenOrders != nil {
		// the maker order left the book with this fill
		if err := maker.OpenOrders.Remove(ev.Side, ev.MakerOrderID); err != nil {
			e.logger.Warn("open_order_release_failed",
				zap.String("maker", ev.Maker.Hex()),
				zap.Stringer("side", ev.Side),
				zap.Uint64("maker_order_id", ev.MakerOrderID),
				zap.Error(err))
		}
	}
}
