package spot

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/account"
)

// SettleFundsRequest names the owner's token accounts receiving payouts.
type SettleFundsRequest struct {
	Owner       common.Address
	CoinAccount common.Address
	PcAccount   common.Address
}

// SettleFundsResult reports what was paid out.
type SettleFundsResult struct {
	Coin uint64
	Pc   uint64
}

// SettleFunds pays the owner's free balances out of the market vaults and
// zeroes them. Either payout is skipped when its balance is zero. Each
// receiving account must exist, hold the market's mint for that side and be
// owned by the owner; this is checked before anything moves.
//
// If the pc payout fails after the coin payout went through, the coin payout
// is sent back and the ledger is left unchanged. Should that reversal fail
// too, the coin has left the vault: FreeCoin is zeroed and the returned
// result reports the coin paid alongside the error, so the caller can
// persist the ledger.
func (e *Engine) SettleFunds(m *Market, ledger *account.UserMarketAccount, req SettleFundsRequest) (*SettleFundsResult, error) {
	if m == nil || m.State == nil {
		return nil, fmt.Errorf("%w: missing market record", ErrInvalidArgument)
	}
	if err := validateTrader(m, &Trader{Ledger: ledger}, req.Owner, false); err != nil {
		return nil, err
	}

	coin, pc := ledger.FreeCoin, ledger.FreePc
	st := m.State

	if coin > 0 {
		if err := e.custody.CheckDestination(req.CoinAccount, st.CoinMint, req.Owner); err != nil {
			return nil, fmt.Errorf("%w: coin account: %w", ErrInvalidArgument, err)
		}
	}
	if pc > 0 {
		if err := e.custody.CheckDestination(req.PcAccount, st.PcMint, req.Owner); err != nil {
			return nil, fmt.Errorf("%w: pc account: %w", ErrInvalidArgument, err)
		}
	}

	if coin > 0 {
		if err := e.custody.Transfer(st.CoinVault, req.CoinAccount, st.Address, coin); err != nil {
			return nil, transferError(err)
		}
	}
	if pc > 0 {
		if err := e.custody.Transfer(st.PcVault, req.PcAccount, st.Address, pc); err != nil {
			if coin == 0 {
				return nil, transferError(err)
			}
			rerr := e.custody.Transfer(req.CoinAccount, st.CoinVault, req.Owner, coin)
			if rerr == nil {
				return nil, transferError(err)
			}
			ledger.FreeCoin = 0
			e.logger.Error("settle_reversal_failed",
				zap.String("market", st.Address.Hex()),
				zap.String("owner", req.Owner.Hex()),
				zap.Uint64("coin", coin),
				zap.Error(rerr))
			return &SettleFundsResult{Coin: coin}, fmt.Errorf("%w; reversal: %w", transferError(err), rerr)
		}
	}

	ledger.TakeFree()
	e.logger.Debug("funds_settled",
		zap.String("market", st.Address.Hex()),
		zap.String("owner", req.Owner.Hex()),
		zap.Uint64("coin", coin),
		zap.Uint64("pc", pc))
	return &SettleFundsResult{Coin: coin, Pc: pc}, nil
}
