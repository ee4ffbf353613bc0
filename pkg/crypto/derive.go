// file: pkg/crypto/derive.go
package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Seed prefixes for every record the exchange owns.
var (
	SeedMarket     = []byte("market")
	SeedUserMarket = []byte("user_market_account")
	SeedOpenOrder  = []byte("open_order")
	SeedCoinVault  = []byte("coin_vault")
	SeedPcVault    = []byte("pc_vault")
	SeedBids       = []byte("bids")
	SeedAsks       = []byte("asks")
	SeedEvents     = []byte("events")
)

// DeriveAddress returns the record address for seeds under program:
// the last 20 bytes of keccak256(program || seed_1 || ... || seed_n).
// The same inputs always give the same address.
func DeriveAddress(program common.Address, seeds ...[]byte) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(program.Bytes())
	for _, s := range seeds {
		h.Write(s)
	}
	sum := h.Sum(nil)
	return common.BytesToAddress(sum[12:])
}

// Addresses groups every derived record address of a market.
type Addresses struct {
	Market    common.Address
	CoinVault common.Address
	PcVault   common.Address
	Bids      common.Address
	Asks      common.Address
	Events    common.Address
}

// MarketAddresses derives the market record and its satellite records from
// the two mints.
func MarketAddresses(program, coinMint, pcMint common.Address) Addresses {
	market := DeriveAddress(program, SeedMarket, pcMint.Bytes(), coinMint.Bytes())
	return Addresses{
		Market:    market,
		CoinVault: DeriveAddress(program, SeedCoinVault, market.Bytes()),
		PcVault:   DeriveAddress(program, SeedPcVault, market.Bytes()),
		Bids:      DeriveAddress(program, SeedBids, market.Bytes()),
		Asks:      DeriveAddress(program, SeedAsks, market.Bytes()),
		Events:    DeriveAddress(program, SeedEvents, market.Bytes()),
	}
}

// UserMarketAddress is the ledger record of owner in market.
func UserMarketAddress(program, market, owner common.Address) common.Address {
	return DeriveAddress(program, SeedUserMarket, market.Bytes(), owner.Bytes())
}

// OpenOrderAddress is the open-order index record of owner in market.
func OpenOrderAddress(program, market, owner common.Address) common.Address {
	return DeriveAddress(program, SeedOpenOrder, market.Bytes(), owner.Bytes())
}
