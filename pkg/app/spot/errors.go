package spot

import (
	"errors"
	"fmt"

	"github.com/common-cold/onchain-orderbook/pkg/custody"
)

// Validation errors. Nothing is mutated when one is returned.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSideMismatch    = errors.New("side mismatch")
	ErrMarketMismatch  = errors.New("market mismatch")
	ErrOwnerMismatch   = errors.New("owner mismatch")
)

var (
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMissingAccount    = errors.New("missing account")
	ErrNotFound          = errors.New("order not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTransferFailed    = errors.New("transfer failed")
)

func transferError(err error) error {
	if errors.Is(err, custody.ErrInsufficientFunds) {
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	}
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}
