package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/market"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
	"github.com/common-cold/onchain-orderbook/pkg/app/spot"
	"github.com/common-cold/onchain-orderbook/pkg/crypto"
	"github.com/common-cold/onchain-orderbook/pkg/custody"
	"github.com/common-cold/onchain-orderbook/pkg/dispatch"
	"github.com/common-cold/onchain-orderbook/pkg/util"
)

const requestIDHeader = "X-Request-ID"

// Server handles REST API and WebSocket connections
type Server struct {
	d       *dispatch.Dispatcher
	router  *mux.Router
	hub     *Hub
	auth    *Authenticator
	logger  *zap.Logger
	origins []string
}

// NewServer creates a new API server. The hub is shared with the
// dispatcher's publisher so drained events reach WebSocket subscribers.
func NewServer(d *dispatch.Dispatcher, hub *Hub, auth *Authenticator, origins []string, logger *zap.Logger) *Server {
	s := &Server{
		d:       d,
		router:  mux.NewRouter(),
		hub:     hub,
		auth:    auth,
		logger:  util.OrNop(logger).Named("api"),
		origins: origins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets", s.handleInitMarket).Methods("POST")
	api.HandleFunc("/markets/{market}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{market}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{market}/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/markets/{market}/traders/{owner}", s.handleGetTrader).Methods("GET")

	// Instructions
	api.HandleFunc("/markets/{market}/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/markets/{market}/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/markets/{market}/consume", s.handleConsume).Methods("POST")
	api.HandleFunc("/markets/{market}/settle", s.handleSettle).Methods("POST")

	// Custody
	api.HandleFunc("/token-accounts/{address}", s.handleGetTokenAccount).Methods("GET")
	api.HandleFunc("/faucet/accounts", s.handleOpenTokenAccount).Methods("POST")
	api.HandleFunc("/faucet/mint", s.handleMint).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until ctx is cancelled, then shuts down within timeout.
func (s *Server) Start(ctx context.Context, addr string, timeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("server stopping")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(dispatch.WithRequestID(r.Context(), id)))
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.d.Markets()
	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = toMarketInfo(m)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleInitMarket(w http.ResponseWriter, r *http.Request) {
	var req InitMarketRequest
	if !s.decode(w, r, &req) {
		return
	}
	coinMint, err := parseAddress("coinMint", req.CoinMint)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	pcMint, err := parseAddress("pcMint", req.PcMint)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	authority, err := parseAddress("authority", req.Authority)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}

	st, err := s.d.InitializeMarket(r.Context(), coinMint, pcMint, authority)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toMarketInfo(st))
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "market")
	if !ok {
		return
	}
	snap, err := s.d.Market(addr, 0)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, MarketSnapshot{
		Market:     toMarketInfo(snap.State),
		Bids:       toOrderInfos(snap.Bids),
		Asks:       toOrderInfos(snap.Asks),
		PendingLen: len(snap.Pending),
		Pending:    toEventInfos(snap.Pending),
	})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "market")
	if !ok {
		return
	}
	snap, err := s.d.Market(addr, 0)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, OrderbookSnapshot{
		Market:    addr.Hex(),
		Bids:      toLevels(snap.BidLevels),
		Asks:      toLevels(snap.AskLevels),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "market")
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, r, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}
	snap, err := s.d.Market(addr, limit)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toEventInfos(snap.Pending))
}

func (s *Server) handleGetTrader(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "market")
	if !ok {
		return
	}
	owner, ok := s.pathAddress(w, r, "owner")
	if !ok {
		return
	}
	snap, err := s.d.Trader(addr, owner)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTraderInfo(snap.Ledger, snap.OpenOrders))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "market")
	if !ok {
		return
	}
	var req CreateOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	payer, err := parseAddress("payer", req.Payer)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}

	if err := s.auth.Check(&crypto.CreateOrderEIP712{
		Market:     addr,
		Side:       uint8(side),
		LimitPrice: req.LimitPrice,
		CoinQty:    req.CoinQty,
		PcQty:      req.PcQty,
		Payer:      payer,
		Trader:     owner,
		Nonce:      req.Nonce,
		Deadline:   req.Deadline,
	}, req.SignedRequest); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	res, err := s.d.CreateOrder(r.Context(), addr, spot.CreateOrderRequest{
		Owner:      owner,
		Payer:      payer,
		Side:       side,
		LimitPrice: req.LimitPrice,
		CoinQty:    req.CoinQty,
		PcQty:      req.PcQty,
	})
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	response := CreateOrderResponse{
		Fills:         toEventInfos(res.Fills),
		FilledQty:     res.FilledQty,
		RestingQty:    res.RestingQty,
		Deposited:     res.Deposited,
		DroppedEvents: res.DroppedEvents,
	}
	if res.Rested() {
		id := res.OrderID
		response.OrderID = &id
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "market")
	if !ok {
		return
	}
	var req CancelOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}

	if err := s.auth.Check(&crypto.CancelOrderEIP712{
		Market:   addr,
		Side:     uint8(side),
		OrderID:  req.OrderID,
		Trader:   owner,
		Nonce:    req.Nonce,
		Deadline: req.Deadline,
	}, req.SignedRequest); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	res, err := s.d.CancelOrder(r.Context(), addr, spot.CancelOrderRequest{
		Owner:   owner,
		Side:    side,
		OrderID: req.OrderID,
	})
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CancelOrderResponse{
		Order:   toOrderInfo(res.Order),
		Event:   toEventInfo(res.Event),
		Dropped: res.Dropped,
	})
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "market")
	if !ok {
		return
	}
	var req ConsumeRequest
	if !s.decode(w, r, &req) {
		return
	}
	owners := make([]common.Address, 0, len(req.Owners))
	for _, o := range req.Owners {
		a, err := parseAddress("owners", o)
		if err != nil {
			s.badRequest(w, r, err)
			return
		}
		owners = append(owners, a)
	}
	drain := req.DrainCount
	if drain == 0 {
		drain = s.d.DrainLimit()
	}

	res, err := s.d.ConsumeEvents(r.Context(), addr, drain, owners)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ConsumeResponse{Events: toEventInfos(res.Events)})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "market")
	if !ok {
		return
	}
	var req SettleRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	coinAcc, err := parseAddress("coinAccount", req.CoinAccount)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	pcAcc, err := parseAddress("pcAccount", req.PcAccount)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}

	if err := s.auth.Check(&crypto.SettleFundsEIP712{
		Market:      addr,
		CoinAccount: coinAcc,
		PcAccount:   pcAcc,
		Trader:      owner,
		Nonce:       req.Nonce,
		Deadline:    req.Deadline,
	}, req.SignedRequest); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	res, err := s.d.SettleFunds(r.Context(), addr, spot.SettleFundsRequest{
		Owner:       owner,
		CoinAccount: coinAcc,
		PcAccount:   pcAcc,
	})
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SettleResponse{Coin: res.Coin, Pc: res.Pc})
}

func (s *Server) handleGetTokenAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "address")
	if !ok {
		return
	}
	acc, err := s.d.TokenAccount(addr)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTokenAccountInfo(acc))
}

func (s *Server) handleOpenTokenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenTokenAccountRequest
	if !s.decode(w, r, &req) {
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	mint, err := parseAddress("mint", req.Mint)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.d.OpenTokenAccount(r.Context(), addr, mint, owner); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, TokenAccountInfo{
		Address: addr.Hex(),
		Mint:    mint.Hex(),
		Owner:   owner.Hex(),
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if !s.decode(w, r, &req) {
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.d.Mint(r.Context(), addr, req.Amount); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	acc, err := s.d.TokenAccount(addr)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTokenAccountInfo(acc))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	addr, err := parseAddress(name, mux.Vars(r)[name])
	if err != nil {
		s.badRequest(w, r, err)
		return common.Address{}, false
	}
	return addr, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, http.StatusBadRequest, "invalid argument", err.Error())
}

// respondFailure maps domain errors onto HTTP statuses.
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", dispatch.RequestID(r.Context())),
			zap.Error(err))
	}
	respondError(w, r, status, http.StatusText(status), err.Error())
}

func statusFor(err error) int {
	switch {
	case isAuthError(err):
		return http.StatusUnauthorized
	case spot.IsValidation(err),
		errors.Is(err, market.ErrInvalidMints),
		errors.Is(err, market.ErrInvalidCapacity):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrMarketNotFound),
		errors.Is(err, spot.ErrMissingAccount),
		errors.Is(err, spot.ErrNotFound),
		errors.Is(err, custody.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, spot.ErrUnauthorized),
		errors.Is(err, dispatch.ErrFaucetDisabled),
		errors.Is(err, custody.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, spot.ErrCapacityExceeded),
		errors.Is(err, dispatch.ErrMarketExists),
		errors.Is(err, custody.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, spot.ErrInsufficientFunds),
		errors.Is(err, custody.ErrInsufficientFunds),
		errors.Is(err, custody.ErrMintMismatch):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:     error,
		Message:   message,
		RequestID: dispatch.RequestID(r.Context()),
	})
}
