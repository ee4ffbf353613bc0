package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// UserMarketAccount is the per (owner, market) balance ledger. Locked
// balances back resting orders and fills that have not been consumed yet;
// free balances are withdrawable by settlement.
//
// The mutators below assume the caller checked sufficiency first. An
// underflow is a bug in the caller and panics.
type UserMarketAccount struct {
	Owner      common.Address
	Market     common.Address
	FreeCoin   uint64
	LockedCoin uint64
	FreePc     uint64
	LockedPc   uint64
	OpenOrder  common.Address
	Bump       uint8
}

// NewUserMarketAccount returns a zeroed ledger.
func NewUserMarketAccount(owner, market, openOrder common.Address, bump uint8) *UserMarketAccount {
	return &UserMarketAccount{
		Owner:     owner,
		Market:    market,
		OpenOrder: openOrder,
		Bump:      bump,
	}
}

func sub(bal *uint64, amount uint64, what string) {
	if *bal < amount {
		panic(fmt.Sprintf("account: %s underflow: %d < %d", what, *bal, amount))
	}
	*bal -= amount
}

func add(bal *uint64, amount uint64, what string) {
	if *bal+amount < *bal {
		panic(fmt.Sprintf("account: %s overflow: %d + %d", what, *bal, amount))
	}
	*bal += amount
}

// LockFreeCoin moves amount from free to locked coin.
func (a *UserMarketAccount) LockFreeCoin(amount uint64) {
	sub(&a.FreeCoin, amount, "free_coin")
	add(&a.LockedCoin, amount, "locked_coin")
}

// LockFreePc moves amount from free to locked pc.
func (a *UserMarketAccount) LockFreePc(amount uint64) {
	sub(&a.FreePc, amount, "free_pc")
	add(&a.LockedPc, amount, "locked_pc")
}

// CreditLockedCoin adds freshly deposited coin straight to locked.
func (a *UserMarketAccount) CreditLockedCoin(amount uint64) {
	add(&a.LockedCoin, amount, "locked_coin")
}

// CreditLockedPc adds freshly deposited pc straight to locked.
func (a *UserMarketAccount) CreditLockedPc(amount uint64) {
	add(&a.LockedPc, amount, "locked_pc")
}

// UnlockCoin moves amount from locked back to free coin.
func (a *UserMarketAccount) UnlockCoin(amount uint64) {
	sub(&a.LockedCoin, amount, "locked_coin")
	add(&a.FreeCoin, amount, "free_coin")
}

// UnlockPc moves amount from locked back to free pc.
func (a *UserMarketAccount) UnlockPc(amount uint64) {
	sub(&a.LockedPc, amount, "locked_pc")
	add(&a.FreePc, amount, "free_pc")
}

// DebitLockedCoin removes coin that left this ledger in a trade.
func (a *UserMarketAccount) DebitLockedCoin(amount uint64) {
	sub(&a.LockedCoin, amount, "locked_coin")
}

// DebitLockedPc removes pc that left this ledger in a trade.
func (a *UserMarketAccount) DebitLockedPc(amount uint64) {
	sub(&a.LockedPc, amount, "locked_pc")
}

// CreditFreeCoin adds coin received in a trade.
func (a *UserMarketAccount) CreditFreeCoin(amount uint64) {
	add(&a.FreeCoin, amount, "free_coin")
}

// CreditFreePc adds pc received in a trade.
func (a *UserMarketAccount) CreditFreePc(amount uint64) {
	add(&a.FreePc, amount, "free_pc")
}

// TakeFree zeroes both free balances and returns what they held.
func (a *UserMarketAccount) TakeFree() (coin, pc uint64) {
	coin, pc = a.FreeCoin, a.FreePc
	a.FreeCoin, a.FreePc = 0, 0
	return coin, pc
}

// TotalCoin returns free plus locked coin.
func (a *UserMarketAccount) TotalCoin() uint64 { return a.FreeCoin + a.LockedCoin }

// TotalPc returns free plus locked pc.
func (a *UserMarketAccount) TotalPc() uint64 { return a.FreePc + a.LockedPc }

// Clone returns a copy.
func (a *UserMarketAccount) Clone() *UserMarketAccount {
	cp := *a
	return &cp
}
