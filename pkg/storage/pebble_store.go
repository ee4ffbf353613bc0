package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/account"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/market"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/custody"
)

// Store persists every exchange record in Pebble, keyed by record address.
// Writes go through Batch so that one request commits atomically.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the Pebble database at path.
func Open(path string) (*Store, error) {
	cache := pebble.NewCache(64 << 20)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:                    cache,
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func load[T any](s *Store, key []byte, decode func([]byte) (T, error)) (T, bool, error) {
	var zero T
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to get %q: %w", key[:len(key)-common.AddressLength], err)
	}
	defer closer.Close()

	v, err := decode(data)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func scan[T any](s *Store, prefix string, decode func([]byte) (T, error)) ([]T, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %q: %w", prefix, err)
	}
	defer iter.Close()

	var out []T
	for iter.First(); iter.Valid(); iter.Next() {
		v, err := decode(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("record %x: %w", iter.Key(), err)
		}
		out = append(out, v)
	}
	return out, iter.Error()
}

// LoadMarket returns the market record at addr, or false if absent.
func (s *Store) LoadMarket(addr common.Address) (*market.State, bool, error) {
	return load(s, marketKey(addr), decodeMarket)
}

func (s *Store) LoadBook(addr common.Address) (*orderbook.OrderBook, bool, error) {
	return load(s, bookKey(addr), decodeBook)
}

func (s *Store) LoadQueue(addr common.Address) (*events.Queue, bool, error) {
	return load(s, eventsKey(addr), decodeQueue)
}

func (s *Store) LoadLedger(addr common.Address) (*account.UserMarketAccount, bool, error) {
	return load(s, ledgerKey(addr), decodeLedger)
}

func (s *Store) LoadOpenOrders(addr common.Address) (*account.OpenOrders, bool, error) {
	return load(s, openOrdersKey(addr), decodeOpenOrders)
}

func (s *Store) LoadToken(addr common.Address) (*custody.TokenAccount, bool, error) {
	return load(s, tokenKey(addr), decodeToken)
}

// Markets returns every stored market record.
func (s *Store) Markets() ([]*market.State, error) {
	return scan(s, prefixMarket, decodeMarket)
}

// TokenAccounts returns every stored custody account.
func (s *Store) TokenAccounts() ([]custody.TokenAccount, error) {
	accts, err := scan(s, prefixToken, decodeToken)
	if err != nil {
		return nil, err
	}
	out := make([]custody.TokenAccount, len(accts))
	for i, a := range accts {
		out[i] = *a
	}
	return out, nil
}

// Batch collects the writes of one request.
type Batch struct {
	batch *pebble.Batch
}

// NewBatch starts an empty batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) set(key, value []byte) error {
	if err := b.batch.Set(key, value, nil); err != nil {
		return fmt.Errorf("batch set: %w", err)
	}
	return nil
}

func (b *Batch) PutMarket(st *market.State) error {
	data, err := market.Encode(st)
	if err != nil {
		return err
	}
	return b.set(marketKey(st.Address), data)
}

func (b *Batch) PutBook(addr common.Address, book *orderbook.OrderBook) error {
	data, err := encodeBinary(book)
	if err != nil {
		return err
	}
	return b.set(bookKey(addr), data)
}

func (b *Batch) PutQueue(addr common.Address, q *events.Queue) error {
	data, err := encodeBinary(q)
	if err != nil {
		return err
	}
	return b.set(eventsKey(addr), data)
}

func (b *Batch) PutLedger(addr common.Address, l *account.UserMarketAccount) error {
	data, err := account.EncodeUserMarketAccount(l)
	if err != nil {
		return err
	}
	return b.set(ledgerKey(addr), data)
}

func (b *Batch) PutOpenOrders(addr common.Address, o *account.OpenOrders) error {
	data, err := encodeBinary(o)
	if err != nil {
		return err
	}
	return b.set(openOrdersKey(addr), data)
}

func (b *Batch) PutToken(a *custody.TokenAccount) error {
	data, err := custody.EncodeTokenAccount(a)
	if err != nil {
		return err
	}
	return b.set(tokenKey(a.Address), data)
}

// Commit writes the batch to Pebble atomically.
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close releases the batch. Uncommitted writes are discarded.
func (b *Batch) Close() error {
	return b.batch.Close()
}
