package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/common-cold/onchain-orderbook/pkg/crypto"
)

var (
	ErrSignatureRequired = errors.New("signature required")
	ErrSignatureExpired  = errors.New("signature deadline outside accepted window")
	ErrReplayedNonce     = errors.New("nonce already used")
)

const seenNonceCapacity = 1 << 16

// Authenticator checks EIP-712 request signatures. Accepted (owner, nonce)
// pairs are remembered for the signature window, so a signed request is
// executed at most once while its deadline is valid.
type Authenticator struct {
	signer   *crypto.EIP712Signer
	required bool
	window   time.Duration
	now      func() time.Time

	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewAuthenticator verifies signatures under the program's domain. When
// required is false unsigned requests pass, signed ones are still checked.
func NewAuthenticator(program common.Address, required bool, window time.Duration) *Authenticator {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Authenticator{
		signer:   crypto.NewEIP712Signer(crypto.DefaultDomain(program)),
		required: required,
		window:   window,
		now:      time.Now,
		seen:     expirable.NewLRU[string, struct{}](seenNonceCapacity, nil, window),
	}
}

// Check verifies sig over msg and consumes its nonce.
func (a *Authenticator) Check(msg crypto.Message, sig SignedRequest) error {
	if sig.Signature == "" {
		if a.required {
			return ErrSignatureRequired
		}
		return nil
	}

	now := uint64(a.now().Unix())
	nonce, deadline := msg.Replay()
	if deadline <= now || deadline > now+uint64(a.window/time.Second) {
		return fmt.Errorf("%w: deadline %d, now %d", ErrSignatureExpired, deadline, now)
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(sig.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("%w: %w", crypto.ErrInvalidSignature, err)
	}
	if err := a.signer.Verify(msg, raw); err != nil {
		return err
	}

	key := msg.Owner().Hex() + ":" + strconv.FormatUint(nonce, 10)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen.Contains(key) {
		return fmt.Errorf("%w: %d", ErrReplayedNonce, nonce)
	}
	a.seen.Add(key, struct{}{})
	return nil
}

func isAuthError(err error) bool {
	return errors.Is(err, ErrSignatureRequired) ||
		errors.Is(err, ErrSignatureExpired) ||
		errors.Is(err, ErrReplayedNonce) ||
		errors.Is(err, crypto.ErrInvalidSignature) ||
		errors.Is(err, crypto.ErrSignerMismatch)
}
