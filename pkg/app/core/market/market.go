package market

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/crypto"
)

var (
	ErrInvalidMints    = errors.New("invalid market mints")
	ErrInvalidCapacity = errors.New("invalid book capacity")
	ErrMalformedRecord = errors.New("malformed market record")
)

// State is the market record. It names the two assets, the vaults holding
// their custody and the satellite records of the market.
type State struct {
	Address   common.Address
	CoinMint  common.Address
	PcMint    common.Address
	CoinVault common.Address
	PcVault   common.Address
	Bids      common.Address
	Asks      common.Address
	Events    common.Address
	Authority common.Address
}

// Records is a freshly initialized market: its state, two empty books and
// an empty event queue.
type Records struct {
	State  *State
	Bids   *orderbook.OrderBook
	Asks   *orderbook.OrderBook
	Events *events.Queue
}

// Initialize derives every market address and builds zeroed records.
// Persisting them and opening the vault token accounts is up to the caller.
func Initialize(program, coinMint, pcMint, authority common.Address, capacity int) (*Records, error) {
	if coinMint == (common.Address{}) || pcMint == (common.Address{}) || coinMint == pcMint {
		return nil, fmt.Errorf("%w: coin %s pc %s", ErrInvalidMints, coinMint.Hex(), pcMint.Hex())
	}
	if capacity <= 0 || capacity > 0xffff {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	addrs := crypto.MarketAddresses(program, coinMint, pcMint)
	st := &State{
		Address:   addrs.Market,
		CoinMint:  coinMint,
		PcMint:    pcMint,
		CoinVault: addrs.CoinVault,
		PcVault:   addrs.PcVault,
		Bids:      addrs.Bids,
		Asks:      addrs.Asks,
		Events:    addrs.Events,
		Authority: authority,
	}
	return &Records{
		State:  st,
		Bids:   orderbook.New(orderbook.Bid, st.Address, capacity),
		Asks:   orderbook.New(orderbook.Ask, st.Address, capacity),
		Events: events.NewQueue(st.Address),
	}, nil
}

// Encode returns the RLP encoding of s.
func Encode(s *State) ([]byte, error) {
	return rlp.EncodeToBytes(s)
}

// Decode parses an RLP encoded market record.
func Decode(data []byte) (*State, error) {
	var s State
	if err := rlp.DecodeBytes(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return &s, nil
}
