package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/app/spot"
	"github.com/common-cold/onchain-orderbook/pkg/custody"
	"github.com/common-cold/onchain-orderbook/pkg/storage"
)

var (
	program  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	coinMint = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	pcMint   = common.HexToAddress("0x0000000000000000000000000000000000000c02")
	admin    = common.HexToAddress("0x0000000000000000000000000000000000000a00")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func coinAcct(owner common.Address) common.Address {
	return common.BytesToAddress(append([]byte{0xc0}, owner.Bytes()[1:]...))
}

func pcAcct(owner common.Address) common.Address {
	return common.BytesToAddress(append([]byte{0xbc}, owner.Bytes()[1:]...))
}

type recordingPublisher struct {
	got []events.Event
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, _ common.Address, evs []events.Event) error {
	p.got = append(p.got, evs...)
	return p.err
}

type harness struct {
	t       *testing.T
	dir     string
	store   *storage.Store
	bank    *custody.Bank
	d       *Dispatcher
	pub     *recordingPublisher
	journal *observer.ObservedLogs
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T, dir string) *harness {
	t.Helper()
	store, err := storage.Open(dir)
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	journalCore, journal := observer.New(zap.InfoLevel)
	h := &harness{
		t:       t,
		dir:     dir,
		store:   store,
		bank:    custody.NewBank(nil),
		pub:     &recordingPublisher{},
		journal: journal,
		logs:    logs,
	}
	h.d, err = New(Config{
		Program:      program,
		BookCapacity: orderbook.TestCapacity,
		DrainLimit:   5,
		EnableFaucet: true,
	}, store, h.bank, h.pub, zap.New(journalCore), zap.New(core))
	require.NoError(t, err)
	return h
}

func (h *harness) close() { require.NoError(h.t, h.store.Close()) }

func (h *harness) fund(owner common.Address, coin, pc uint64) {
	h.t.Helper()
	ctx := context.Background()
	require.NoError(h.t, h.d.OpenTokenAccount(ctx, coinAcct(owner), coinMint, owner))
	require.NoError(h.t, h.d.OpenTokenAccount(ctx, pcAcct(owner), pcMint, owner))
	require.NoError(h.t, h.d.Mint(ctx, coinAcct(owner), coin))
	require.NoError(h.t, h.d.Mint(ctx, pcAcct(owner), pc))
}

func order(owner common.Address, side orderbook.Side, price, qty uint64) spot.CreateOrderRequest {
	req := spot.CreateOrderRequest{Owner: owner, Side: side, LimitPrice: price, CoinQty: qty}
	if side == orderbook.Bid {
		req.Payer = pcAcct(owner)
		req.PcQty = price * qty
	} else {
		req.Payer = coinAcct(owner)
	}
	return req
}

func TestDispatcher_FullLifecycleSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir)
	ctx := WithRequestID(context.Background(), "req-1")

	st, err := h.d.InitializeMarket(ctx, coinMint, pcMint, admin)
	require.NoError(t, err)
	h.fund(alice, 100, 0)
	h.fund(bob, 0, 1000)

	_, err = h.d.CreateOrder(ctx, st.Address, order(alice, orderbook.Ask, 10, 5))
	require.NoError(t, err)
	res, err := h.d.CreateOrder(ctx, st.Address, order(bob, orderbook.Bid, 10, 8))
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, uint64(3), res.RestingQty)

	consumed, err := h.d.ConsumeEvents(ctx, st.Address, 0, nil)
	require.NoError(t, err)
	require.Len(t, consumed.Events, 1)
	assert.Len(t, h.pub.got, 1)

	_, err = h.d.SettleFunds(ctx, st.Address, spot.SettleFundsRequest{Owner: alice, CoinAccount: coinAcct(alice), PcAccount: pcAcct(alice)})
	require.NoError(t, err)

	entries := h.journal.All()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "settle_funds", last.Message)
	assert.Equal(t, "req-1", last.ContextMap()["request_id"])
	assert.Equal(t, uint64(50), last.ContextMap()["pc"])
	h.close()

	// reopen from disk
	h2 := newHarness(t, dir)
	defer h2.close()
	require.Len(t, h2.d.Markets(), 1)

	snap, err := h2.d.Market(st.Address, 0)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, uint64(3), snap.Bids[0].Quantity)
	assert.Empty(t, snap.Asks)
	assert.Empty(t, snap.Pending)

	a, err := h2.d.Trader(st.Address, alice)
	require.NoError(t, err)
	assert.Zero(t, a.Ledger.FreePc)
	assert.Empty(t, a.OpenOrders)

	b, err := h2.d.Trader(st.Address, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), b.Ledger.FreeCoin)
	assert.Equal(t, uint64(30), b.Ledger.LockedPc)
	assert.Equal(t, []orderbookRef{{orderbook.Bid, 0}}, refs(b))

	pc, err := h2.d.TokenAccount(pcAcct(alice))
	require.NoError(t, err)
	assert.Equal(t, uint64(50), pc.Amount)
	vault, err := h2.d.TokenAccount(st.PcVault)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), vault.Amount)
}

type orderbookRef struct {
	Side orderbook.Side
	ID   uint64
}

func refs(t *TraderSnapshot) []orderbookRef {
	var out []orderbookRef
	for _, r := range t.OpenOrders {
		out = append(out, orderbookRef{r.Side, r.OrderID})
	}
	return out
}

func TestDispatcher_FailedCreatePersistsNothing(t *testing.T) {
	h := newHarness(t, t.TempDir())
	defer h.close()
	ctx := context.Background()

	st, err := h.d.InitializeMarket(ctx, coinMint, pcMint, admin)
	require.NoError(t, err)
	h.fund(bob, 0, 10)

	_, err = h.d.CreateOrder(ctx, st.Address, order(bob, orderbook.Bid, 10, 5))
	require.ErrorIs(t, err, spot.ErrInsufficientFunds)

	_, err = h.d.Trader(st.Address, bob)
	require.ErrorIs(t, err, spot.ErrMissingAccount)
	snap, err := h.d.Market(st.Address, 0)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
}

func TestDispatcher_Errors(t *testing.T) {
	h := newHarness(t, t.TempDir())
	defer h.close()
	ctx := context.Background()

	st, err := h.d.InitializeMarket(ctx, coinMint, pcMint, admin)
	require.NoError(t, err)

	_, err = h.d.InitializeMarket(ctx, coinMint, pcMint, admin)
	require.ErrorIs(t, err, ErrMarketExists)

	unknown := common.HexToAddress("0xdead")
	_, err = h.d.CreateOrder(ctx, unknown, order(alice, orderbook.Ask, 1, 1))
	require.ErrorIs(t, err, ErrMarketNotFound)
	_, err = h.d.Market(unknown, 0)
	require.ErrorIs(t, err, ErrMarketNotFound)

	_, err = h.d.CancelOrder(ctx, st.Address, spot.CancelOrderRequest{Owner: alice, Side: orderbook.Ask, OrderID: 0})
	require.ErrorIs(t, err, spot.ErrMissingAccount)

	h.d.cfg.EnableFaucet = false
	require.ErrorIs(t, h.d.Mint(ctx, coinAcct(alice), 1), ErrFaucetDisabled)
}

func TestDispatcher_PublishFailureDoesNotFailConsume(t *testing.T) {
	h := newHarness(t, t.TempDir())
	defer h.close()
	ctx := context.Background()

	st, err := h.d.InitializeMarket(ctx, coinMint, pcMint, admin)
	require.NoError(t, err)
	h.fund(alice, 10, 0)
	h.fund(bob, 0, 100)
	_, err = h.d.CreateOrder(ctx, st.Address, order(alice, orderbook.Ask, 10, 1))
	require.NoError(t, err)
	_, err = h.d.CreateOrder(ctx, st.Address, order(bob, orderbook.Bid, 10, 1))
	require.NoError(t, err)

	h.pub.err = errors.New("kafka down")
	res, err := h.d.ConsumeEvents(ctx, st.Address, 10, nil)
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
	assert.Equal(t, 1, h.logs.FilterMessage("publish_failed").Len())
}

func TestDispatcher_ConsumeWithExplicitOwners(t *testing.T) {
	h := newHarness(t, t.TempDir())
	defer h.close()
	ctx := context.Background()

	st, err := h.d.InitializeMarket(ctx, coinMint, pcMint, admin)
	require.NoError(t, err)
	h.fund(alice, 10, 0)
	h.fund(bob, 0, 100)
	_, err = h.d.CreateOrder(ctx, st.Address, order(alice, orderbook.Ask, 10, 1))
	require.NoError(t, err)
	_, err = h.d.CreateOrder(ctx, st.Address, order(bob, orderbook.Bid, 10, 1))
	require.NoError(t, err)

	_, err = h.d.ConsumeEvents(ctx, st.Address, 10, []common.Address{alice})
	require.ErrorIs(t, err, spot.ErrMissingAccount)

	snap, err := h.d.Market(st.Address, 0)
	require.NoError(t, err)
	assert.Len(t, snap.Pending, 1)

	_, err = h.d.ConsumeEvents(ctx, st.Address, 10, []common.Address{alice, bob})
	require.NoError(t, err)
}
