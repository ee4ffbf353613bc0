package spot

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
)

func TestConsumeEvents_SettlesFills(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	ask := f.mustPlace(alice, orderbook.Ask, 10, 5)
	f.mustPlace(bob, orderbook.Bid, 10, 5)

	res := f.consume(10)
	require.Len(t, res.Events, 1)
	assert.True(t, f.market.Events.IsEmpty())

	a, b := f.traders[alice].Ledger, f.traders[bob].Ledger
	assert.Equal(t, uint64(50), a.FreePc)
	assert.Zero(t, a.LockedCoin)
	assert.Equal(t, uint64(5), b.FreeCoin)
	assert.Zero(t, b.LockedPc)
	assert.False(t, f.traders[alice].OpenOrders.Contains(orderbook.Ask, ask.OrderID))
	f.checkInvariants()
}

func TestConsumeEvents_PartialMakerStaysIndexed(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	bid := f.mustPlace(bob, orderbook.Bid, 10, 5)
	f.mustPlace(alice, orderbook.Ask, 10, 2)

	f.consume(1)
	assert.True(t, f.traders[bob].OpenOrders.Contains(orderbook.Bid, bid.OrderID))
	b := f.traders[bob].Ledger
	assert.Equal(t, uint64(2), b.FreeCoin)
	assert.Equal(t, uint64(30), b.LockedPc)
	assert.Equal(t, uint64(20), f.traders[alice].Ledger.FreePc)
	f.checkInvariants()
}

func TestConsumeEvents_DrainCount(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	for i := 0; i < 4; i++ {
		f.mustPlace(alice, orderbook.Ask, 10, 1)
	}
	f.mustPlace(bob, orderbook.Bid, 10, 4)
	require.Equal(t, 4, f.market.Events.Size())

	res := f.consume(3)
	assert.Len(t, res.Events, 3)
	assert.Equal(t, 1, f.market.Events.Size())
	f.checkInvariants()

	// asking for more than is pending drains what is there
	res = f.consume(10)
	assert.Len(t, res.Events, 1)
	assert.True(t, f.market.Events.IsEmpty())

	res = f.consume(10)
	assert.Empty(t, res.Events)
	f.checkInvariants()

	_, err := f.engine.ConsumeEvents(f.market, f.byLedger(), 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestConsumeEvents_MissingAccountIsAtomic(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(alice, orderbook.Ask, 10, 1)
	f.mustPlace(bob, orderbook.Bid, 10, 1)
	f.mustPlace(carol, orderbook.Ask, 10, 1)
	f.mustPlace(bob, orderbook.Bid, 10, 1)
	before := f.snapshot()

	traders := f.byLedger()
	delete(traders, f.engine.LedgerAddress(f.market.State.Address, carol))

	_, err := f.engine.ConsumeEvents(f.market, traders, 5)
	require.ErrorIs(t, err, ErrMissingAccount)
	assert.Equal(t, before, f.snapshot())
	assert.Equal(t, 2, f.market.Events.Size())
}

func TestConsumeEvents_WrongMarketLedger(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	f.mustPlace(alice, orderbook.Ask, 10, 1)
	f.mustPlace(bob, orderbook.Bid, 10, 1)
	f.traders[bob].Ledger.Market = common.HexToAddress("0xbad")

	_, err := f.engine.ConsumeEvents(f.market, f.byLedger(), 5)
	require.ErrorIs(t, err, ErrMarketMismatch)
	assert.Equal(t, 1, f.market.Events.Size())
}

func TestConsumeEvents_UnindexedMakerWarns(t *testing.T) {
	f := newFixture(t, orderbook.TestCapacity)
	ask := f.mustPlace(alice, orderbook.Ask, 10, 5)
	f.mustPlace(bob, orderbook.Bid, 10, 5)
	require.NoError(t, f.traders[alice].OpenOrders.Remove(orderbook.Ask, ask.OrderID))

	res := f.consume(10)
	require.Len(t, res.Events, 1)
	assert.Equal(t, uint64(50), f.traders[alice].Ledger.FreePc)

	warned := f.logs.FilterMessage("open_order_release_failed").All()
	require.Len(t, warned, 1)
	assert.Equal(t, ask.OrderID, warned[0].ContextMap()["maker_order_id"])
}
