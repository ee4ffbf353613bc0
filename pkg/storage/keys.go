package storage

import (
	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema: one prefix per record kind followed by the 20-byte
// record address, so every kind can be range scanned.
const (
	prefixMarket     = "mkt:"
	prefixBook       = "book:"
	prefixEvents     = "evq:"
	prefixLedger     = "uma:"
	prefixOpenOrders = "oo:"
	prefixToken      = "tok:"
)

func recordKey(prefix string, addr common.Address) []byte {
	k := make([]byte, 0, len(prefix)+common.AddressLength)
	k = append(k, prefix...)
	return append(k, addr.Bytes()...)
}

func marketKey(addr common.Address) []byte     { return recordKey(prefixMarket, addr) }
func bookKey(addr common.Address) []byte       { return recordKey(prefixBook, addr) }
func eventsKey(addr common.Address) []byte     { return recordKey(prefixEvents, addr) }
func ledgerKey(addr common.Address) []byte     { return recordKey(prefixLedger, addr) }
func openOrdersKey(addr common.Address) []byte { return recordKey(prefixOpenOrders, addr) }
func tokenKey(addr common.Address) []byte      { return recordKey(prefixToken, addr) }

// keyUpperBound returns the exclusive upper bound for a prefix scan.
// Example: "mkt:" -> "mkt;"
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
