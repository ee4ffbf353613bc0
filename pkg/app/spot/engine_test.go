package spot

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/account"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/market"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/crypto"
	"github.com/common-cold/onchain-orderbook/pkg/custody"
)

var (
	program  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	coinMint = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	pcMint   = common.HexToAddress("0x0000000000000000000000000000000000000c02")
	admin    = common.HexToAddress("0x0000000000000000000000000000000000000a00")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	carol    = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

const startingBalance = 1_000_000_000

type fixture struct {
	t       *testing.T
	engine  *Engine
	bank    *custody.Bank
	market  *Market
	traders map[common.Address]*Trader // by owner
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	recs, err := market.Initialize(program, coinMint, pcMint, admin, capacity)
	require.NoError(t, err)

	bank := custody.NewBank(nil)
	require.NoError(t, bank.OpenAccount(recs.State.CoinVault, coinMint, recs.State.Address))
	require.NoError(t, bank.OpenAccount(recs.State.PcVault, pcMint, recs.State.Address))

	core, logs := observer.New(zap.DebugLevel)
	return &fixture{
		t:      t,
		engine: NewEngine(program, bank, zap.New(core)),
		bank:   bank,
		market: &Market{
			State:  recs.State,
			Bids:   recs.Bids,
			Asks:   recs.Asks,
			Events: recs.Events,
		},
		traders: make(map[common.Address]*Trader),
		logs:    logs,
	}
}

func coinAccount(owner common.Address) common.Address {
	return crypto.DeriveAddress(program, []byte("coin"), owner.Bytes())
}

func pcAccount(owner common.Address) common.Address {
	return crypto.DeriveAddress(program, []byte("pc"), owner.Bytes())
}

// trader returns owner's records, creating them and funding the owner's
// token accounts on first use.
func (f *fixture) trader(owner common.Address) *Trader {
	if tr, ok := f.traders[owner]; ok {
		return tr
	}
	mkt := f.market.State.Address
	tr := &Trader{
		Ledger:     account.NewUserMarketAccount(owner, mkt, crypto.OpenOrderAddress(program, mkt, owner), 0),
		OpenOrders: account.NewOpenOrders(owner, mkt, 0),
	}
	f.traders[owner] = tr

	require.NoError(f.t, f.bank.OpenAccount(coinAccount(owner), coinMint, owner))
	require.NoError(f.t, f.bank.OpenAccount(pcAccount(owner), pcMint, owner))
	require.NoError(f.t, f.bank.Mint(coinAccount(owner), startingBalance))
	require.NoError(f.t, f.bank.Mint(pcAccount(owner), startingBalance))
	return tr
}

func (f *fixture) request(owner common.Address, side orderbook.Side, price, qty uint64) CreateOrderRequest {
	req := CreateOrderRequest{
		Owner:      owner,
		Payer:      pcAccount(owner),
		Side:       side,
		LimitPrice: price,
		CoinQty:    qty,
		PcQty:      price * qty,
	}
	if side == orderbook.Ask {
		req.Payer = coinAccount(owner)
		req.PcQty = 0
	}
	return req
}

func (f *fixture) place(owner common.Address, side orderbook.Side, price, qty uint64) (*CreateOrderResult, error) {
	return f.engine.CreateOrder(f.market, f.trader(owner), f.request(owner, side, price, qty))
}

func (f *fixture) mustPlace(owner common.Address, side orderbook.Side, price, qty uint64) *CreateOrderResult {
	f.t.Helper()
	res, err := f.place(owner, side, price, qty)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) byLedger() map[common.Address]*Trader {
	out := make(map[common.Address]*Trader, len(f.traders))
	for owner, tr := range f.traders {
		out[f.engine.LedgerAddress(f.market.State.Address, owner)] = tr
	}
	return out
}

func (f *fixture) consume(n int) *ConsumeResult {
	f.t.Helper()
	res, err := f.engine.ConsumeEvents(f.market, f.byLedger(), n)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) balance(addr common.Address) uint64 {
	f.t.Helper()
	bal, err := f.bank.Balance(addr)
	require.NoError(f.t, err)
	return bal
}

// snapshot encodes every record so tests can assert a failed call changed
// nothing.
func (f *fixture) snapshot() [][]byte {
	f.t.Helper()
	var out [][]byte
	add := func(b []byte, err error) {
		require.NoError(f.t, err)
		out = append(out, b)
	}
	add(f.market.Bids.MarshalBinary())
	add(f.market.Asks.MarshalBinary())
	add(f.market.Events.MarshalBinary())
	for _, owner := range []common.Address{alice, bob, carol} {
		tr, ok := f.traders[owner]
		if !ok {
			continue
		}
		add(account.EncodeUserMarketAccount(tr.Ledger))
		add(tr.OpenOrders.MarshalBinary())
	}
	return out
}

// checkInvariants asserts that every owner's locked balances equal the
// resting remainders plus the amounts of pending fills still to be debited,
// and that the ledgers together account for exactly what the vaults hold.
func (f *fixture) checkInvariants() {
	f.t.Helper()
	lockedCoin := make(map[common.Address]uint64)
	lockedPc := make(map[common.Address]uint64)

	for _, o := range f.market.Asks.Orders() {
		lockedCoin[o.Owner] += o.Remaining()
	}
	for _, o := range f.market.Bids.Orders() {
		lockedPc[o.Owner] += o.Remaining() * o.Price
	}
	for _, ev := range f.market.Events.Pending(0) {
		if ev.Type != events.Fill {
			continue
		}
		if ev.Side == orderbook.Bid {
			lockedPc[ev.Maker] += ev.PcQty
			lockedCoin[ev.Taker] += ev.CoinQty
		} else {
			lockedCoin[ev.Maker] += ev.CoinQty
			lockedPc[ev.Taker] += ev.PcQty
		}
	}

	var totalCoin, totalPc uint64
	for owner, tr := range f.traders {
		require.Equal(f.t, lockedCoin[owner], tr.Ledger.LockedCoin, "locked coin of %s", owner.Hex())
		require.Equal(f.t, lockedPc[owner], tr.Ledger.LockedPc, "locked pc of %s", owner.Hex())
		totalCoin += tr.Ledger.TotalCoin()
		totalPc += tr.Ledger.TotalPc()
	}
	require.Equal(f.t, f.balance(f.market.State.CoinVault), totalCoin, "coin vault")
	require.Equal(f.t, f.balance(f.market.State.PcVault), totalPc, "pc vault")
}
