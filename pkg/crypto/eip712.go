package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var ErrSignerMismatch = errors.New("signature does not match owner")

// EIP712Domain is the domain separator for request signatures. The
// verifying contract is the program address, so signatures for one
// deployment are not valid on another.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func DefaultDomain(program common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "OnchainOrderbook",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: program,
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Message is a signable request.
type Message interface {
	// Owner is the address the signature must recover to.
	Owner() common.Address
	// Replay returns the nonce and the unix-seconds deadline.
	Replay() (nonce, deadline uint64)

	primaryType() string
	types() []apitypes.Type
	values() apitypes.TypedDataMessage
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

// CreateOrderEIP712 authorizes one create-order request.
type CreateOrderEIP712 struct {
	Market     common.Address
	Side       uint8 // 0 = bid, 1 = ask
	LimitPrice uint64
	CoinQty    uint64
	PcQty      uint64
	Payer      common.Address
	Trader     common.Address
	Nonce      uint64
	Deadline   uint64
}

func (m *CreateOrderEIP712) Owner() common.Address    { return m.Trader }
func (m *CreateOrderEIP712) Replay() (uint64, uint64) { return m.Nonce, m.Deadline }
func (m *CreateOrderEIP712) primaryType() string      { return "CreateOrder" }

func (m *CreateOrderEIP712) types() []apitypes.Type {
	return []apitypes.Type{
		{Name: "market", Type: "address"},
		{Name: "side", Type: "uint8"},
		{Name: "limitPrice", Type: "uint64"},
		{Name: "coinQty", Type: "uint64"},
		{Name: "pcQty", Type: "uint64"},
		{Name: "payer", Type: "address"},
		{Name: "owner", Type: "address"},
		{Name: "nonce", Type: "uint64"},
		{Name: "deadline", Type: "uint64"},
	}
}

func (m *CreateOrderEIP712) values() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"market":     m.Market.Hex(),
		"side":       strconv.Itoa(int(m.Side)),
		"limitPrice": u64(m.LimitPrice),
		"coinQty":    u64(m.CoinQty),
		"pcQty":      u64(m.PcQty),
		"payer":      m.Payer.Hex(),
		"owner":      m.Trader.Hex(),
		"nonce":      u64(m.Nonce),
		"deadline":   u64(m.Deadline),
	}
}

// CancelOrderEIP712 authorizes one cancel request.
type CancelOrderEIP712 struct {
	Market   common.Address
	Side     uint8
	OrderID  uint64
	Trader   common.Address
	Nonce    uint64
	Deadline uint64
}

func (m *CancelOrderEIP712) Owner() common.Address    { return m.Trader }
func (m *CancelOrderEIP712) Replay() (uint64, uint64) { return m.Nonce, m.Deadline }
func (m *CancelOrderEIP712) primaryType() string      { return "CancelOrder" }

func (m *CancelOrderEIP712) types() []apitypes.Type {
	return []apitypes.Type{
		{Name: "market", Type: "address"},
		{Name: "side", Type: "uint8"},
		{Name: "orderId", Type: "uint64"},
		{Name: "owner", Type: "address"},
		{Name: "nonce", Type: "uint64"},
		{Name: "deadline", Type: "uint64"},
	}
}

func (m *CancelOrderEIP712) values() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"market":   m.Market.Hex(),
		"side":     strconv.Itoa(int(m.Side)),
		"orderId":  u64(m.OrderID),
		"owner":    m.Trader.Hex(),
		"nonce":    u64(m.Nonce),
		"deadline": u64(m.Deadline),
	}
}

// SettleFundsEIP712 authorizes paying free balances to two token accounts.
type SettleFundsEIP712 struct {
	Market      common.Address
	CoinAccount common.Address
	PcAccount   common.Address
	Trader      common.Address
	Nonce       uint64
	Deadline    uint64
}

func (m *SettleFundsEIP712) Owner() common.Address    { return m.Trader }
func (m *SettleFundsEIP712) Replay() (uint64, uint64) { return m.Nonce, m.Deadline }
func (m *SettleFundsEIP712) primaryType() string      { return "SettleFunds" }

func (m *SettleFundsEIP712) types() []apitypes.Type {
	return []apitypes.Type{
		{Name: "market", Type: "address"},
		{Name: "coinAccount", Type: "address"},
		{Name: "pcAccount", Type: "address"},
		{Name: "owner", Type: "address"},
		{Name: "nonce", Type: "uint64"},
		{Name: "deadline", Type: "uint64"},
	}
}

func (m *SettleFundsEIP712) values() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"market":      m.Market.Hex(),
		"coinAccount": m.CoinAccount.Hex(),
		"pcAccount":   m.PcAccount.Hex(),
		"owner":       m.Trader.Hex(),
		"nonce":       u64(m.Nonce),
		"deadline":    u64(m.Deadline),
	}
}

// EIP712Signer hashes, signs and verifies request messages under one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// TypedData returns the eth_signTypedData_v4 payload for msg.
func (e *EIP712Signer) TypedData(msg Message) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":    domainType,
			msg.primaryType(): msg.types(),
		},
		PrimaryType: msg.primaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg.values(),
	}
}

// Hash returns the digest a wallet signs for msg:
// keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func (e *EIP712Signer) Hash(msg Message) ([]byte, error) {
	typedData := e.TypedData(msg)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(typedDataHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, typedDataHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) Sign(signer *Signer, msg Message) ([]byte, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// Recover returns the address that produced signature over msg.
func (e *EIP712Signer) Recover(msg Message, signature []byte) (common.Address, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// Verify checks that signature over msg was produced by msg.Owner().
func (e *EIP712Signer) Verify(msg Message, signature []byte) error {
	addr, err := e.Recover(msg, signature)
	if err != nil {
		return err
	}
	if addr != msg.Owner() {
		return fmt.Errorf("%w: recovered %s, owner %s", ErrSignerMismatch, addr.Hex(), msg.Owner().Hex())
	}
	return nil
}

// ToJSON renders msg as typed data for wallet signing.
func (e *EIP712Signer) ToJSON(msg Message) (string, error) {
	b, err := json.MarshalIndent(e.TypedData(msg), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal typed data: %w", err)
	}
	return string(b), nil
}
