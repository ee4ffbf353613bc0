package dispatch

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/account"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/market"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/custody"
)

// MarketSnapshot is a read-only copy of a market's books and queue.
type MarketSnapshot struct {
	State     *market.State
	Bids      []orderbook.Order
	Asks      []orderbook.Order
	BidLevels []orderbook.PriceLevel
	AskLevels []orderbook.PriceLevel
	Pending   []events.Event
}

// Market returns the market's current books and up to pendingLimit
// pending events (all of them when pendingLimit is zero).
func (d *Dispatcher) Market(addr common.Address, pendingLimit int) (*MarketSnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, err := d.loadMarket(addr)
	if err != nil {
		return nil, err
	}
	return &MarketSnapshot{
		State:     m.State,
		Bids:      m.Bids.Orders(),
		Asks:      m.Asks.Orders(),
		BidLevels: m.Bids.Levels(),
		AskLevels: m.Asks.Levels(),
		Pending:   m.Events.Pending(pendingLimit),
	}, nil
}

// TraderSnapshot is an owner's ledger and open orders in one market.
type TraderSnapshot struct {
	Ledger     *account.UserMarketAccount
	OpenOrders []account.OpenOrderRef
}

// Trader returns owner's records in market.
func (d *Dispatcher) Trader(marketAddr, owner common.Address) (*TraderSnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.registry.Get(marketAddr); !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketAddr.Hex())
	}
	_, tr, err := d.loadTrader(marketAddr, owner, false)
	if err != nil {
		return nil, err
	}
	return &TraderSnapshot{Ledger: tr.Ledger, OpenOrders: tr.OpenOrders.Refs()}, nil
}

// TokenAccount returns a custody account.
func (d *Dispatcher) TokenAccount(addr common.Address) (custody.TokenAccount, error) {
	return d.bank.Account(addr)
}

// OpenTokenAccount creates an empty custody account. Devnet faucet only.
func (d *Dispatcher) OpenTokenAccount(ctx context.Context, addr, mint, owner common.Address) error {
	if !d.cfg.EnableFaucet {
		return ErrFaucetDisabled
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.bank.OpenAccount(addr, mint, owner); err != nil {
		return err
	}
	if err := d.persistTokens(); err != nil {
		return err
	}
	d.record(ctx, "open_token_account",
		zap.String("account", addr.Hex()),
		zap.String("mint", mint.Hex()),
		zap.String("owner", owner.Hex()))
	return nil
}

// Mint credits amount to a custody account. Devnet faucet only.
func (d *Dispatcher) Mint(ctx context.Context, addr common.Address, amount uint64) error {
	if !d.cfg.EnableFaucet {
		return ErrFaucetDisabled
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.bank.Mint(addr, amount); err != nil {
		return err
	}
	if err := d.persistTokens(); err != nil {
		return err
	}
	d.record(ctx, "mint", zap.String("account", addr.Hex()), zap.Uint64("amount", amount))
	return nil
}

func (d *Dispatcher) persistTokens() error {
	b := d.store.NewBatch()
	defer b.Close()
	if err := d.putTokens(b); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return d.commitFailed(err)
	}
	return nil
}
