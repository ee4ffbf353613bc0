package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/account"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/market"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/app/spot"
	"github.com/common-cold/onchain-orderbook/pkg/crypto"
	"github.com/common-cold/onchain-orderbook/pkg/custody"
	"github.com/common-cold/onchain-orderbook/pkg/feed"
	"github.com/common-cold/onchain-orderbook/pkg/storage"
	"github.com/common-cold/onchain-orderbook/pkg/util"
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrMarketExists   = errors.New("market already initialized")
	ErrRecordMissing  = errors.New("market record missing from store")
	ErrFaucetDisabled = errors.New("faucet disabled")
)

// Config carries the dispatcher settings taken from params.
type Config struct {
	Program      common.Address
	BookCapacity int
	DrainLimit   int
	EnableFaucet bool
}

// Dispatcher is the outer request handler. It resolves and loads the
// records a request touches, runs the engine on them and commits every
// changed record in one Pebble batch. Requests are executed one at a time.
type Dispatcher struct {
	mu sync.RWMutex

	cfg       Config
	store     *storage.Store
	bank      *custody.Bank
	engine    *spot.Engine
	registry  *market.Registry
	publisher feed.Publisher
	journal   *zap.Logger
	logger    *zap.Logger
}

// New wires a dispatcher and loads existing markets and token accounts
// from the store. Every committed request is also written to journal, which
// may be nil.
func New(cfg Config, store *storage.Store, bank *custody.Bank, publisher feed.Publisher, journal *zap.Logger, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.BookCapacity <= 0 {
		cfg.BookCapacity = orderbook.DesignCapacity
	}
	if cfg.DrainLimit <= 0 {
		cfg.DrainLimit = 5
	}
	if publisher == nil {
		publisher = feed.NopPublisher{}
	}
	journal = util.OrNop(journal)
	logger = util.OrNop(logger)

	d := &Dispatcher{
		cfg:       cfg,
		store:     store,
		bank:      bank,
		engine:    spot.NewEngine(cfg.Program, bank, logger.Named("engine")),
		registry:  market.NewRegistry(),
		publisher: publisher,
		journal:   journal,
		logger:    logger,
	}

	markets, err := store.Markets()
	if err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	for _, st := range markets {
		if err := d.registry.Register(st); err != nil {
			return nil, err
		}
	}
	tokens, err := store.TokenAccounts()
	if err != nil {
		return nil, fmt.Errorf("load token accounts: %w", err)
	}
	bank.Load(tokens)

	logger.Info("dispatcher_ready",
		zap.String("program", cfg.Program.Hex()),
		zap.Int("markets", len(markets)),
		zap.Int("token_accounts", len(tokens)))
	return d, nil
}

// DrainLimit is the default drain count.
func (d *Dispatcher) DrainLimit() int { return d.cfg.DrainLimit }

// Markets lists every initialized market.
func (d *Dispatcher) Markets() []*market.State { return d.registry.List() }

// InitializeMarket creates the records of a new market and opens its two
// vaults, owned by the market address.
func (d *Dispatcher) InitializeMarket(ctx context.Context, coinMint, pcMint, authority common.Address) (*market.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	recs, err := market.Initialize(d.cfg.Program, coinMint, pcMint, authority, d.cfg.BookCapacity)
	if err != nil {
		return nil, err
	}
	st := recs.State
	if _, ok := d.registry.Get(st.Address); ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketExists, st.Address.Hex())
	}
	if err := d.bank.OpenAccount(st.CoinVault, coinMint, st.Address); err != nil {
		return nil, err
	}
	if err := d.bank.OpenAccount(st.PcVault, pcMint, st.Address); err != nil {
		return nil, err
	}

	m := &spot.Market{State: st, Bids: recs.Bids, Asks: recs.Asks, Events: recs.Events}
	if err := d.commit(m, nil, true); err != nil {
		return nil, err
	}
	if err := d.registry.Register(st); err != nil {
		return nil, err
	}
	d.record(ctx, "init_market", zap.String("market", st.Address.Hex()),
		zap.String("coin_mint", coinMint.Hex()), zap.String("pc_mint", pcMint.Hex()))
	return st, nil
}

// CreateOrder places an order, creating the owner's ledger and open-order
// index on first use.
func (d *Dispatcher) CreateOrder(ctx context.Context, marketAddr common.Address, req spot.CreateOrderRequest) (*spot.CreateOrderResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.loadMarket(marketAddr)
	if err != nil {
		return nil, err
	}
	ledgerAddr, tr, err := d.loadTrader(marketAddr, req.Owner, true)
	if err != nil {
		return nil, err
	}
	res, err := d.engine.CreateOrder(m, tr, req)
	if err != nil {
		return nil, err
	}
	if err := d.commit(m, map[common.Address]*spot.Trader{ledgerAddr: tr}, false); err != nil {
		return nil, err
	}
	d.record(ctx, "create_order",
		zap.String("market", marketAddr.Hex()),
		zap.String("owner", req.Owner.Hex()),
		zap.Stringer("side", req.Side),
		zap.Uint64("limit_price", req.LimitPrice),
		zap.Uint64("coin_qty", req.CoinQty),
		zap.Int("fills", len(res.Fills)),
		zap.Int("dropped_events", res.DroppedEvents))
	return res, nil
}

// CancelOrder cancels an owner's resting order.
func (d *Dispatcher) CancelOrder(ctx context.Context, marketAddr common.Address, req spot.CancelOrderRequest) (*spot.CancelOrderResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.loadMarket(marketAddr)
	if err != nil {
		return nil, err
	}
	ledgerAddr, tr, err := d.loadTrader(marketAddr, req.Owner, false)
	if err != nil {
		return nil, err
	}
	res, err := d.engine.CancelOrder(m, tr, req)
	if err != nil {
		return nil, err
	}
	if err := d.commit(m, map[common.Address]*spot.Trader{ledgerAddr: tr}, false); err != nil {
		return nil, err
	}
	d.record(ctx, "cancel_order",
		zap.String("market", marketAddr.Hex()),
		zap.String("owner", req.Owner.Hex()),
		zap.Stringer("side", req.Side),
		zap.Uint64("order_id", req.OrderID))
	return res, nil
}

// ConsumeEvents drains up to drainCount events (the configured limit when
// zero). The ledgers of owners are supplied to the engine; when owners is
// empty they are resolved from the pending events. Drained events are
// published after the commit.
func (d *Dispatcher) ConsumeEvents(ctx context.Context, marketAddr common.Address, drainCount int, owners []common.Address) (*spot.ConsumeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if drainCount == 0 {
		drainCount = d.cfg.DrainLimit
	}
	m, err := d.loadMarket(marketAddr)
	if err != nil {
		return nil, err
	}
	if len(owners) == 0 {
		owners = referencedOwners(m.Events, drainCount)
	}

	traders := make(map[common.Address]*spot.Trader, len(owners))
	for _, owner := range owners {
		ledgerAddr, tr, err := d.loadTrader(marketAddr, owner, false)
		if errors.Is(err, spot.ErrMissingAccount) {
			continue
		}
		if err != nil {
			return nil, err
		}
		traders[ledgerAddr] = tr
	}

	res, err := d.engine.ConsumeEvents(m, traders, drainCount)
	if err != nil {
		return nil, err
	}
	if err := d.commit(m, traders, false); err != nil {
		return nil, err
	}
	d.record(ctx, "consume_events",
		zap.String("market", marketAddr.Hex()),
		zap.Int("drained", len(res.Events)))

	if err := d.publisher.Publish(ctx, marketAddr, res.Events); err != nil {
		d.logger.Warn("publish_failed", zap.String("market", marketAddr.Hex()), zap.Error(err))
	}
	return res, nil
}

// SettleFunds pays the owner's free balances out to their token accounts.
func (d *Dispatcher) SettleFunds(ctx context.Context, marketAddr common.Address, req spot.SettleFundsRequest) (*spot.SettleFundsResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.loadMarket(marketAddr)
	if err != nil {
		return nil, err
	}
	ledgerAddr, tr, err := d.loadTrader(marketAddr, req.Owner, false)
	if err != nil {
		return nil, err
	}
	res, settleErr := d.engine.SettleFunds(m, tr.Ledger, req)
	if res == nil {
		return nil, settleErr
	}

	// a partial result means funds moved and the ledger must follow
	b := d.store.NewBatch()
	defer b.Close()
	if err := b.PutLedger(ledgerAddr, tr.Ledger); err != nil {
		return nil, err
	}
	if err := d.putTokens(b); err != nil {
		return nil, err
	}
	if err := b.Commit(); err != nil {
		return nil, d.commitFailed(err)
	}
	if settleErr != nil {
		d.record(ctx, "settle_funds_partial",
			zap.String("market", marketAddr.Hex()),
			zap.String("owner", req.Owner.Hex()),
			zap.Uint64("coin", res.Coin))
		return nil, settleErr
	}
	d.record(ctx, "settle_funds",
		zap.String("market", marketAddr.Hex()),
		zap.String("owner", req.Owner.Hex()),
		zap.Uint64("coin", res.Coin),
		zap.Uint64("pc", res.Pc))
	return res, nil
}

// referencedOwners lists the makers and takers of the next n pending fills.
func referencedOwners(q *events.Queue, n int) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, ev := range q.Pending(n) {
		if ev.Type != events.Fill {
			continue
		}
		for _, owner := range []common.Address{ev.Maker, ev.Taker} {
			if _, ok := seen[owner]; !ok {
				seen[owner] = struct{}{}
				out = append(out, owner)
			}
		}
	}
	return out
}

func (d *Dispatcher) loadMarket(addr common.Address) (*spot.Market, error) {
	st, ok := d.registry.Get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, addr.Hex())
	}
	bids, ok, err := d.store.LoadBook(st.Bids)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: bids of %s", ErrRecordMissing, addr.Hex())
	}
	asks, ok, err := d.store.LoadBook(st.Asks)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: asks of %s", ErrRecordMissing, addr.Hex())
	}
	q, ok, err := d.store.LoadQueue(st.Events)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: events of %s", ErrRecordMissing, addr.Hex())
	}
	return &spot.Market{State: st, Bids: bids, Asks: asks, Events: q}, nil
}

// loadTrader returns owner's ledger address and records. With create set a
// missing trader gets fresh zeroed records, which are only persisted if the
// request commits.
func (d *Dispatcher) loadTrader(marketAddr, owner common.Address, create bool) (common.Address, *spot.Trader, error) {
	ledgerAddr := crypto.UserMarketAddress(d.cfg.Program, marketAddr, owner)
	ooAddr := crypto.OpenOrderAddress(d.cfg.Program, marketAddr, owner)

	ledger, ok, err := d.store.LoadLedger(ledgerAddr)
	if err != nil {
		return ledgerAddr, nil, err
	}
	if !ok {
		if !create {
			return ledgerAddr, nil, fmt.Errorf("%w: no ledger for %s in %s", spot.ErrMissingAccount, owner.Hex(), marketAddr.Hex())
		}
		return ledgerAddr, &spot.Trader{
			Ledger:     account.NewUserMarketAccount(owner, marketAddr, ooAddr, 0),
			OpenOrders: account.NewOpenOrders(owner, marketAddr, 0),
		}, nil
	}

	oo, ok, err := d.store.LoadOpenOrders(ledger.OpenOrder)
	if err != nil {
		return ledgerAddr, nil, err
	}
	if !ok {
		oo = account.NewOpenOrders(owner, marketAddr, 0)
	}
	return ledgerAddr, &spot.Trader{Ledger: ledger, OpenOrders: oo}, nil
}

// commit persists the market records, the given traders and every custody
// account touched since the last commit in one batch.
func (d *Dispatcher) commit(m *spot.Market, traders map[common.Address]*spot.Trader, withState bool) error {
	b := d.store.NewBatch()
	defer b.Close()

	st := m.State
	if withState {
		if err := b.PutMarket(st); err != nil {
			return err
		}
	}
	if err := b.PutBook(st.Bids, m.Bids); err != nil {
		return err
	}
	if err := b.PutBook(st.Asks, m.Asks); err != nil {
		return err
	}
	if err := b.PutQueue(st.Events, m.Events); err != nil {
		return err
	}
	for addr, tr := range traders {
		if err := b.PutLedger(addr, tr.Ledger); err != nil {
			return err
		}
		if tr.OpenOrders != nil {
			if err := b.PutOpenOrders(tr.Ledger.OpenOrder, tr.OpenOrders); err != nil {
				return err
			}
		}
	}
	if err := d.putTokens(b); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return d.commitFailed(err)
	}
	return nil
}

func (d *Dispatcher) putTokens(b *storage.Batch) error {
	for _, acc := range d.bank.TakeDirty() {
		if err := b.PutToken(&acc); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) commitFailed(err error) error {
	// custody already moved; the store is now behind the bank
	d.logger.Error("commit_failed", zap.Error(err))
	return fmt.Errorf("commit: %w", err)
}

func (d *Dispatcher) record(ctx context.Context, op string, fields ...zap.Field) {
	fields = append(fields, zap.String("request_id", RequestID(ctx)))
	d.logger.Info(op, fields...)
	d.journal.Info(op, fields...)
}
