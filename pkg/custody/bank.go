package custody

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"go.uber.org/zap"

	"github.com/common-cold/onchain-orderbook/pkg/util"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("token account not found")
	ErrAccountExists     = errors.New("token account already exists")
	ErrUnauthorized      = errors.New("authority does not own token account")
	ErrMintMismatch      = errors.New("token accounts hold different mints")
)

// TokenAccount holds Amount units of Mint on behalf of Owner. Only Owner may
// move funds out of it.
type TokenAccount struct {
	Address common.Address
	Mint    common.Address
	Owner   common.Address
	Amount  uint64
}

// Bank is an in-process token ledger. It implements the transfer capability
// the matching engine uses for deposits into and payouts from market vaults.
// Safe for concurrent use.
type Bank struct {
	mu       sync.Mutex
	accounts map[common.Address]*TokenAccount
	dirty    map[common.Address]struct{}
	logger   *zap.Logger
}

// NewBank returns an empty bank.
func NewBank(logger *zap.Logger) *Bank {
	return &Bank{
		accounts: make(map[common.Address]*TokenAccount),
		dirty:    make(map[common.Address]struct{}),
		logger:   util.OrNop(logger),
	}
}

// Load replaces the bank contents with accts, typically read back from disk.
func (b *Bank) Load(accts []TokenAccount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts = make(map[common.Address]*TokenAccount, len(accts))
	b.dirty = make(map[common.Address]struct{})
	for i := range accts {
		a := accts[i]
		b.accounts[a.Address] = &a
	}
}

// OpenAccount creates an empty token account.
func (b *Bank) OpenAccount(addr, mint, owner common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, addr.Hex())
	}
	b.accounts[addr] = &TokenAccount{Address: addr, Mint: mint, Owner: owner}
	b.dirty[addr] = struct{}{}
	return nil
}

// Mint creates amount new units in addr. Devnet faucet only.
func (b *Bank) Mint(addr common.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, addr.Hex())
	}
	if acc.Amount+amount < acc.Amount {
		return fmt.Errorf("mint overflows %s", addr.Hex())
	}
	acc.Amount += amount
	b.dirty[addr] = struct{}{}
	b.logger.Debug("mint", zap.String("account", addr.Hex()), zap.Uint64("amount", amount))
	return nil
}

// Account returns a copy of the token account at addr.
func (b *Bank) Account(addr common.Address) (TokenAccount, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[addr]
	if !ok {
		return TokenAccount{}, fmt.Errorf("%w: %s", ErrAccountNotFound, addr.Hex())
	}
	return *acc, nil
}

// Balance returns the amount held at addr.
func (b *Bank) Balance(addr common.Address) (uint64, error) {
	acc, err := b.Account(addr)
	if err != nil {
		return 0, err
	}
	return acc.Amount, nil
}

// CheckDestination fails unless addr exists, holds mint and is owned by
// owner.
func (b *Bank) CheckDestination(addr, mint, owner common.Address) error {
	acc, err := b.Account(addr)
	if err != nil {
		return err
	}
	if acc.Mint != mint {
		return fmt.Errorf("%w: %s holds %s, want %s", ErrMintMismatch, addr.Hex(), acc.Mint.Hex(), mint.Hex())
	}
	if acc.Owner != owner {
		return fmt.Errorf("%w: %s is owned by %s", ErrUnauthorized, addr.Hex(), acc.Owner.Hex())
	}
	return nil
}

// Transfer moves amount from one account to another of the same mint.
// authority must own the source account. A zero amount is a no-op.
func (b *Bank) Transfer(from, to, authority common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	src, ok := b.accounts[from]
	if !ok {
		return fmt.Errorf("%w: source %s", ErrAccountNotFound, from.Hex())
	}
	dst, ok := b.accounts[to]
	if !ok {
		return fmt.Errorf("%w: destination %s", ErrAccountNotFound, to.Hex())
	}
	if src.Owner != authority {
		return fmt.Errorf("%w: %s is owned by %s", ErrUnauthorized, from.Hex(), src.Owner.Hex())
	}
	if src.Mint != dst.Mint {
		return fmt.Errorf("%w: %s != %s", ErrMintMismatch, src.Mint.Hex(), dst.Mint.Hex())
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientFunds, from.Hex(), src.Amount, amount)
	}
	if dst.Amount+amount < dst.Amount {
		return fmt.Errorf("transfer overflows %s", to.Hex())
	}

	src.Amount -= amount
	dst.Amount += amount
	b.dirty[from] = struct{}{}
	b.dirty[to] = struct{}{}
	b.logger.Debug("transfer",
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("amount", amount))
	return nil
}

// TakeDirty returns every account changed since the last call, ordered by
// address, and clears the change set.
func (b *Bank) TakeDirty() []TokenAccount {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TokenAccount, 0, len(b.dirty))
	for addr := range b.dirty {
		out = append(out, *b.accounts[addr])
	}
	b.dirty = make(map[common.Address]struct{})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

// EncodeTokenAccount returns the RLP encoding of a.
func EncodeTokenAccount(a *TokenAccount) ([]byte, error) {
	return rlp.EncodeToBytes(a)
}

// DecodeTokenAccount parses an RLP encoded token account.
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	var a TokenAccount
	if err := rlp.DecodeBytes(data, &a); err != nil {
		return nil, fmt.Errorf("decode token account: %w", err)
	}
	return &a, nil
}
