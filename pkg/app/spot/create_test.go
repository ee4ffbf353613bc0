package spot

import (
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
)

func TestCreateOrder_FullMatch(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(alice, orderbook.Ask, 10, 5)

	res := f.mustPlace(bob, orderbook.Bid, 10, 5)
	require.Len(t, res.Fills, 1)
	fill := res.Fills[0]
	assert.Equal(t, events.Fill, fill.Type)
	assert.Equal(t, orderbook.Ask, fill.Side)
	assert.Equal(t, alice, fill.Maker)
	assert.Equal(t, bob, fill.Taker)
	assert.Equal(t, uint64(5), fill.CoinQty)
	assert.Equal(t, uint64(50), fill.PcQty)
	assert.Zero(t, fill.MakerRemaining)
	assert.False(t, res.Rested())

	assert.Zero(t, f.market.Asks.Len())
	assert.Zero(t, f.market.Bids.Len())
	assert.Equal(t, 1, f.market.Events.Size())
	f.checkInvariants()
}

func TestCreateOrder_PartialFill(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(alice, orderbook.Ask, 10, 5)

	res := f.mustPlace(bob, orderbook.Bid, 10, 8)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, uint64(5), res.Fills[0].CoinQty)
	assert.Equal(t, uint64(50), res.Fills[0].PcQty)
	assert.Equal(t, uint64(5), res.FilledQty)
	assert.Equal(t, uint64(3), res.RestingQty)

	require.Equal(t, 1, f.market.Bids.Len())
	resting, _ := f.market.Bids.Best()
	assert.Equal(t, uint64(10), resting.Price)
	assert.Equal(t, uint64(3), resting.Quantity)
	assert.Equal(t, res.OrderID, resting.OrderID)
	assert.Zero(t, f.market.Asks.Len())
	assert.True(t, f.traders[bob].OpenOrders.Contains(orderbook.Bid, res.OrderID))
	f.checkInvariants()
}

func TestCreateOrder_NoCross(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(alice, orderbook.Ask, 12, 5)

	res := f.mustPlace(bob, orderbook.Bid, 10, 4)
	assert.Empty(t, res.Fills)
	assert.Equal(t, uint64(4), res.RestingQty)
	require.Equal(t, 1, f.market.Bids.Len())
	assert.Equal(t, 1, f.market.Asks.Len())
	assert.True(t, f.market.Events.IsEmpty())
	f.checkInvariants()
}

func TestCreateOrder_WalksLevelsAtMakerPrice(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(alice, orderbook.Ask, 10, 2)
	f.mustPlace(carol, orderbook.Ask, 11, 2)
	f.mustPlace(alice, orderbook.Ask, 13, 2)

	res := f.mustPlace(bob, orderbook.Bid, 12, 5)
	require.Len(t, res.Fills, 2)
	assert.Equal(t, uint64(20), res.Fills[0].PcQty)
	assert.Equal(t, uint64(22), res.Fills[1].PcQty)
	assert.Equal(t, carol, res.Fills[1].Maker)
	assert.Equal(t, uint64(1), res.RestingQty)

	// 60 funded, 42 spent, 12 backs the resting unit, 6 returned to free
	ledger := f.traders[bob].Ledger
	assert.Equal(t, uint64(54), ledger.LockedPc)
	assert.Equal(t, uint64(6), ledger.FreePc)
	assert.Equal(t, uint64(60), res.Deposited)

	asks := f.market.Asks.Orders()
	require.Len(t, asks, 1)
	assert.Equal(t, uint64(13), asks[0].Price)
	f.checkInvariants()
}

func TestCreateOrder_AskTakerAgainstBids(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(bob, orderbook.Bid, 12, 3)
	f.mustPlace(carol, orderbook.Bid, 11, 3)

	res := f.mustPlace(alice, orderbook.Ask, 11, 4)
	require.Len(t, res.Fills, 2)
	assert.Equal(t, orderbook.Bid, res.Fills[0].Side)
	assert.Equal(t, uint64(36), res.Fills[0].PcQty)
	assert.Equal(t, uint64(1), res.Fills[1].CoinQty)
	assert.Equal(t, uint64(2), res.Fills[1].MakerRemaining)
	assert.False(t, res.Rested())

	best, ok := f.market.Bids.Best()
	require.True(t, ok)
	assert.Equal(t, carol, best.Owner)
	assert.Equal(t, uint64(1), best.FilledQuantity)
	assert.Equal(t, uint64(4), f.traders[alice].Ledger.LockedCoin)
	f.checkInvariants()
}

func TestCreateOrder_BidLocking(t *testing.T) {
	tests := []struct {
		name       string
		askPrice   uint64
		askQty     uint64
		limit      uint64
		qty        uint64
		pcQty      uint64
		wantLocked uint64
		wantFree   uint64
	}{
		{"resting bid with surplus funding", 0, 0, 100, 5, 520, 500, 20},
		{"crossing bid locks maker price", 200, 3, 220, 3, 660, 600, 60},
		{"exact funding", 0, 0, 7, 3, 21, 21, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, orderbook.TestCapacity)
			if tt.askQty > 0 {
				f.mustPlace(alice, orderbook.Ask, tt.askPrice, tt.askQty)
			}
			req := f.request(bob, orderbook.Bid, tt.limit, tt.qty)
			req.PcQty = tt.pcQty
			res, err := f.engine.CreateOrder(f.market, f.trader(bob), req)
			require.NoError(t, err)

			ledger := f.traders[bob].Ledger
			assert.Equal(t, tt.wantLocked, ledger.LockedPc)
			assert.Equal(t, tt.wantFree, ledger.FreePc)
			assert.Equal(t, tt.pcQty, res.Deposited)
			assert.Equal(t, uint64(startingBalance-tt.pcQty), f.balance(pcAccount(bob)))
			f.checkInvariants()
		})
	}
}

func TestCreateOrder_UsesFreeBalanceFirst(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(bob, orderbook.Bid, 10, 3)
	_, err := f.engine.CancelOrder(f.market, f.traders[bob], CancelOrderRequest{Owner: bob, Side: orderbook.Bid, OrderID: 0})
	require.NoError(t, err)
	require.Equal(t, uint64(30), f.traders[bob].Ledger.FreePc)

	res := f.mustPlace(bob, orderbook.Bid, 10, 5)
	assert.Equal(t, uint64(20), res.Deposited)
	assert.Zero(t, f.traders[bob].Ledger.FreePc)
	assert.Equal(t, uint64(50), f.traders[bob].Ledger.LockedPc)
	assert.Equal(t, uint64(startingBalance-50), f.balance(pcAccount(bob)))

	// fully covered by free balance, no transfer at all
	_, err = f.engine.CancelOrder(f.market, f.traders[bob], CancelOrderRequest{Owner: bob, Side: orderbook.Bid, OrderID: res.OrderID})
	require.NoError(t, err)
	res = f.mustPlace(bob, orderbook.Bid, 5, 4)
	assert.Zero(t, res.Deposited)
	assert.Equal(t, uint64(30), f.traders[bob].Ledger.FreePc)
	f.checkInvariants()
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, req *CreateOrderRequest, tr *Trader)
		want   error
	}{
		{"zero quantity", func(_ *fixture, req *CreateOrderRequest, _ *Trader) { req.CoinQty = 0 }, ErrInvalidArgument},
		{"zero price", func(_ *fixture, req *CreateOrderRequest, _ *Trader) { req.LimitPrice = 0 }, ErrInvalidArgument},
		{"bad side", func(_ *fixture, req *CreateOrderRequest, _ *Trader) { req.Side = 7 }, ErrInvalidArgument},
		{"notional overflow", func(_ *fixture, req *CreateOrderRequest, _ *Trader) {
			req.CoinQty, req.LimitPrice = 1<<33, 1<<32
		}, ErrInvalidArgument},
		{"bid underfunded", func(_ *fixture, req *CreateOrderRequest, _ *Trader) { req.PcQty-- }, ErrInvalidArgument},
		{"foreign ledger", func(_ *fixture, req *CreateOrderRequest, _ *Trader) { req.Owner = carol }, ErrOwnerMismatch},
		{"ledger of another market", func(_ *fixture, _ *CreateOrderRequest, tr *Trader) {
			tr.Ledger.Market = common.HexToAddress("0xdead")
		}, ErrMarketMismatch},
		{"books swapped", func(f *fixture, _ *CreateOrderRequest, _ *Trader) {
			f.market.Bids, f.market.Asks = f.market.Asks, f.market.Bids
		}, ErrSideMismatch},
		{"missing open orders", func(_ *fixture, _ *CreateOrderRequest, tr *Trader) { tr.OpenOrders = nil }, ErrMissingAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, orderbook.TestCapacity)
			req := f.request(bob, orderbook.Bid, 10, 5)
			tr := f.trader(bob)
			tt.mutate(f, &req, tr)
			before := f.balance(pcAccount(bob))

			_, err := f.engine.CreateOrder(f.market, tr, req)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, f.balance(pcAccount(bob)))
		})
	}
}

func TestCreateOrder_InsufficientFundsChangesNothing(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(alice, orderbook.Ask, 10, 5)
	f.trader(bob)
	poor := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	require.NoError(t, f.bank.OpenAccount(poor, pcMint, bob))
	require.NoError(t, f.bank.Mint(poor, 49))
	before := f.snapshot()

	req := f.request(bob, orderbook.Bid, 10, 5)
	req.Payer = poor
	_, err := f.engine.CreateOrder(f.market, f.traders[bob], req)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assert.Equal(t, before, f.snapshot())
	assert.Equal(t, uint64(49), f.balance(poor))
	f.checkInvariants()
}

type failingTransferer struct {
	inner Transferer
	fail  func(from, to common.Address) bool
}

func (ft *failingTransferer) Transfer(from, to, authority common.Address, amount uint64) error {
	if ft.fail(from, to) {
		return errors.New("custody offline")
	}
	return ft.inner.Transfer(from, to, authority, amount)
}

func (ft *failingTransferer) CheckDestination(addr, mint, owner common.Address) error {
	return ft.inner.CheckDestination(addr, mint, owner)
}

func TestCreateOrder_LockOverflowRejected(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(alice, orderbook.Bid, 10, 10)
	f.mustPlace(alice, orderbook.Ask, 20, 5)
	require.Equal(t, uint64(100), f.traders[alice].Ledger.LockedPc)
	require.Equal(t, uint64(5), f.traders[alice].Ledger.LockedCoin)
	before := f.snapshot()
	payerPc, payerCoin := f.balance(pcAccount(alice)), f.balance(coinAccount(alice))

	bid := f.request(alice, orderbook.Bid, 1, 1)
	bid.PcQty = math.MaxUint64 - 10
	ask := f.request(alice, orderbook.Ask, 1, math.MaxUint64-2)

	for _, req := range []CreateOrderRequest{bid, ask} {
		var err error
		require.NotPanics(t, func() {
			_, err = f.engine.CreateOrder(f.market, f.traders[alice], req)
		})
		require.ErrorIs(t, err, ErrInvalidArgument)
		assert.True(t, IsValidation(err))
	}
	assert.Equal(t, before, f.snapshot())
	assert.Equal(t, payerPc, f.balance(pcAccount(alice)))
	assert.Equal(t, payerCoin, f.balance(coinAccount(alice)))
}

func TestCreateOrder_TransferFailure(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.trader(bob)
	f.engine.custody = &failingTransferer{inner: f.bank, fail: func(_, _ common.Address) bool { return true }}
	before := f.snapshot()

	_, err := f.place(bob, orderbook.Bid, 10, 5)
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.NotErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, before, f.snapshot())
}

func TestCreateOrder_TakerBookFullAbortsMatch(t *testing.T) {
	f := newFixture(t, 2)
	f.mustPlace(carol, orderbook.Bid, 5, 1)
	f.mustPlace(carol, orderbook.Bid, 5, 1)
	f.mustPlace(alice, orderbook.Ask, 10, 2)
	before := f.snapshot()

	// would match 2 and rest 1 in the full bid book
	_, err := f.place(bob, orderbook.Bid, 10, 3)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, before, f.snapshot())

	// a fully crossing order still goes through
	res := f.mustPlace(bob, orderbook.Bid, 10, 2)
	assert.False(t, res.Rested())
	assert.Zero(t, f.market.Asks.Len())
	f.checkInvariants()
}

func TestCreateOrder_OpenOrdersFull(t *testing.T) {
	f := newFixture(t, 100)
	for i := 0; i < 64; i++ {
		f.mustPlace(alice, orderbook.Ask, uint64(100+i), 1)
	}
	before := f.snapshot()
	_, err := f.place(alice, orderbook.Ask, 500, 1)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, before, f.snapshot())
}

func TestCreateOrder_QueueFullDropsEventAndWarns(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(alice, orderbook.Ask, 10, 5)
	for !f.market.Events.IsFull() {
		f.market.Events.Enqueue(events.Event{Type: events.Out, Maker: carol, Taker: carol})
	}

	res := f.mustPlace(bob, orderbook.Bid, 10, 5)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, 1, res.DroppedEvents)
	assert.Equal(t, 511, f.market.Events.Size())
	// the trade itself stands
	assert.Zero(t, f.market.Asks.Len())

	warned := f.logs.FilterMessage("event_queue_full").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "warn", warned[0].Level.String())
	assert.Equal(t, int64(511), warned[0].ContextMap()["queue_size"])
}

func TestCreateOrder_SelfTrade(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(alice, orderbook.Ask, 10, 2)
	res := f.mustPlace(alice, orderbook.Bid, 10, 2)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, alice, res.Fills[0].Maker)
	assert.Equal(t, alice, res.Fills[0].Taker)
	f.checkInvariants()

	f.consume(10)
	ledger := f.traders[alice].Ledger
	assert.Equal(t, uint64(2), ledger.FreeCoin)
	assert.Equal(t, uint64(20), ledger.FreePc)
	assert.Zero(t, ledger.LockedCoin)
	assert.Zero(t, ledger.LockedPc)
	f.checkInvariants()
}
