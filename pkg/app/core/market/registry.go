package market

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry caches the state of every initialized market, keyed by market
// address. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	markets map[common.Address]*State
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[common.Address]*State),
	}
}

// Register adds a market. A second registration of the same address fails.
func (r *Registry) Register(s *State) error {
	if s == nil {
		return fmt.Errorf("cannot register nil market")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[s.Address]; exists {
		return fmt.Errorf("market %s already registered", s.Address.Hex())
	}
	r.markets[s.Address] = s
	return nil
}

// Get returns the market at addr.
func (r *Registry) Get(addr common.Address) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.markets[addr]
	return s, ok
}

// List returns all markets ordered by address.
func (r *Registry) List() []*State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*State, 0, len(r.markets))
	for _, s := range r.markets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

// Count returns the number of registered markets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
