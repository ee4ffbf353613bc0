package api

// API request and response types for REST endpoints and WebSocket messages.
// Addresses are 0x-prefixed hex strings; quantities are integer units.

// ==============================
// REST Request Types
// ==============================

// SignedRequest carries an optional EIP-712 authorization of the request
// it is embedded in. Deadline is in unix seconds.
type SignedRequest struct {
	Nonce     uint64 `json:"nonce,omitempty"`
	Deadline  uint64 `json:"deadline,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type InitMarketRequest struct {
	CoinMint  string `json:"coinMint"`
	PcMint    string `json:"pcMint"`
	Authority string `json:"authority"`
}

// CreateOrderRequest places a limit order. Side is "bid"/"buy" or "ask"/"sell".
type CreateOrderRequest struct {
	Owner      string `json:"owner"`
	Payer      string `json:"payer"`
	Side       string `json:"side"`
	LimitPrice uint64 `json:"limitPrice"`
	CoinQty    uint64 `json:"coinQty"`
	PcQty      uint64 `json:"pcQty"` // bids only
	SignedRequest
}

type CancelOrderRequest struct {
	Owner   string `json:"owner"`
	Side    string `json:"side"`
	OrderID uint64 `json:"orderId"`
	SignedRequest
}

// ConsumeRequest drains pending events. Zero DrainCount uses the node's
// default; empty Owners resolves ledgers from the pending events.
type ConsumeRequest struct {
	DrainCount int      `json:"drainCount"`
	Owners     []string `json:"owners,omitempty"`
}

type SettleRequest struct {
	Owner       string `json:"owner"`
	CoinAccount string `json:"coinAccount"`
	PcAccount   string `json:"pcAccount"`
	SignedRequest
}

type OpenTokenAccountRequest struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
}

type MintRequest struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// ==============================
// REST Response Types
// ==============================

type MarketInfo struct {
	Address   string `json:"address"`
	CoinMint  string `json:"coinMint"`
	PcMint    string `json:"pcMint"`
	CoinVault string `json:"coinVault"`
	PcVault   string `json:"pcVault"`
	Bids      string `json:"bids"`
	Asks      string `json:"asks"`
	Events    string `json:"events"`
	Authority string `json:"authority"`
}

type OrderInfo struct {
	OrderID        uint64 `json:"orderId"`
	Owner          string `json:"owner"`
	Side           string `json:"side"`
	Price          uint64 `json:"price"`
	Quantity       uint64 `json:"quantity"`
	FilledQuantity uint64 `json:"filledQuantity"`
}

// PriceLevel aggregates resting quantity at one price.
type PriceLevel struct {
	Price uint64 `json:"price"`
	Size  uint64 `json:"size"`
}

type EventInfo struct {
	Type           string `json:"type"`
	Side           string `json:"side"`
	Maker          string `json:"maker"`
	Taker          string `json:"taker"`
	CoinQty        uint64 `json:"coinQty"`
	PcQty          uint64 `json:"pcQty"`
	MakerOrderID   uint64 `json:"makerOrderId"`
	MakerRemaining uint64 `json:"makerRemaining"`
}

type MarketSnapshot struct {
	Market     MarketInfo  `json:"market"`
	Bids       []OrderInfo `json:"bids"` // priority order
	Asks       []OrderInfo `json:"asks"`
	PendingLen int         `json:"pendingLen"`
	Pending    []EventInfo `json:"pending"`
}

type OrderbookSnapshot struct {
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"` // high to low
	Asks      []PriceLevel `json:"asks"` // low to high
	Timestamp int64        `json:"timestamp"`
}

type CreateOrderResponse struct {
	OrderID       *uint64     `json:"orderId,omitempty"` // set when a remainder rests
	Fills         []EventInfo `json:"fills"`
	FilledQty     uint64      `json:"filledQty"`
	RestingQty    uint64      `json:"restingQty"`
	Deposited     uint64      `json:"deposited"`
	DroppedEvents int         `json:"droppedEvents"`
}

type CancelOrderResponse struct {
	Order   OrderInfo `json:"order"`
	Event   EventInfo `json:"event"`
	Dropped bool      `json:"dropped"`
}

type ConsumeResponse struct {
	Events []EventInfo `json:"events"`
}

type SettleResponse struct {
	Coin uint64 `json:"coin"`
	Pc   uint64 `json:"pc"`
}

type OpenOrderInfo struct {
	Side    string `json:"side"`
	OrderID uint64 `json:"orderId"`
}

type TraderInfo struct {
	Owner      string          `json:"owner"`
	Market     string          `json:"market"`
	FreeCoin   uint64          `json:"freeCoin"`
	LockedCoin uint64          `json:"lockedCoin"`
	FreePc     uint64          `json:"freePc"`
	LockedPc   uint64          `json:"lockedPc"`
	OpenOrders []OpenOrderInfo `json:"openOrders"`
}

type TokenAccountInfo struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Amount  uint64 `json:"amount"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest subscribes to channels such as "events:<market>".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// EventsUpdate is pushed on "events:<market>" after a drain.
type EventsUpdate struct {
	Type      string      `json:"type"` // "events"
	Market    string      `json:"market"`
	Events    []EventInfo `json:"events"`
	Timestamp int64       `json:"timestamp"`
}
