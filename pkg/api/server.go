package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tokenex-labs/tokendex/pkg/crypto"
	"github.com/tokenex-labs/tokendex/pkg/dex"
	"github.com/tokenex-labs/tokendex/pkg/ledger"
)

// Server exposes the exchange over REST plus a WebSocket event feed.
// Mutating requests are signed; the recovered address is the order owner or
// settlement caller, so the server itself holds no identity.
type Server struct {
	exchange *dex.Exchange
	gate     *dex.Gate
	tokens   *ledger.TokenLedger
	bank     *ledger.Bank
	router   *mux.Router
	hub      *Hub
	log      *zap.SugaredLogger

	devFaucet bool
	origins   []string

	// Replay protection: highest nonce seen per signer.
	nonceMu sync.Mutex
	nonces  map[common.Address]uint64
}

// NewServer wires the API to the exchange and hooks the event feed to the
// exchange's callbacks.
func NewServer(exchange *dex.Exchange, gate *dex.Gate, tokens *ledger.TokenLedger, bank *ledger.Bank, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		exchange: exchange,
		gate:     gate,
		tokens:   tokens,
		bank:     bank,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		log:      log,
		nonces:   make(map[common.Address]uint64),
	}

	exchange.OnOrder = s.broadcastOrder
	exchange.OnSettlement = s.broadcastSettlement

	s.setupRoutes()
	return s
}

// EnableDevFaucet turns on the faucet/mint/approve admin endpoints.
func (s *Server) EnableDevFaucet() { s.devFaucet = true }

// SetAllowedOrigins overrides the CORS origin whitelist.
func (s *Server) SetAllowedOrigins(origins []string) { s.origins = origins }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order lifecycle
	api.HandleFunc("/orders/bid", s.handleBidOrder).Methods("POST")
	api.HandleFunc("/orders/ask", s.handleAskOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrders).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleDetailOrder).Methods("GET")

	// Settlement (operator-only, enforced by the gate)
	api.HandleFunc("/settle", s.handleSettle).Methods("POST")
	api.HandleFunc("/settle/refund", s.handleSettleWithRefund).Methods("POST")

	// Queries
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/assets/{id}", s.handleGetAssetBalance).Methods("GET")

	// Devnet admin (gated by DEV_FAUCET)
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	api.HandleFunc("/tokens/mint", s.handleMint).Methods("POST")
	api.HandleFunc("/tokens/approve", s.handleApprove).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and blocks serving HTTP.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ==============================
// Order handlers
// ==============================

func (s *Server) handleBidOrder(w http.ResponseWriter, r *http.Request) {
	var req BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Token) {
		respondError(w, http.StatusBadRequest, "invalid token address", "")
		return
	}
	token := common.HexToAddress(req.Token)

	digest := crypto.BidDigest(token, req.AssetID, req.Amount, req.Price, req.Value, req.Nonce)
	owner, ok := s.recoverSigner(w, digest, req.Signature, req.Nonce)
	if !ok {
		return
	}

	id, err := s.exchange.BidOrder(owner, assetRef(token, req.AssetID), req.Amount, req.Price, req.Value)
	if err != nil {
		respondDexError(w, err)
		return
	}
	respondJSON(w, CreateOrderResponse{Status: "created", OrderID: id})
}

func (s *Server) handleAskOrder(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Token) {
		respondError(w, http.StatusBadRequest, "invalid token address", "")
		return
	}
	token := common.HexToAddress(req.Token)

	digest := crypto.AskDigest(token, req.AssetID, req.Amount, req.Price, req.Nonce)
	owner, ok := s.recoverSigner(w, digest, req.Signature, req.Nonce)
	if !ok {
		return
	}

	id, err := s.exchange.AskOrder(owner, assetRef(token, req.AssetID), req.Amount, req.Price)
	if err != nil {
		respondDexError(w, err)
		return
	}
	respondJSON(w, CreateOrderResponse{Status: "created", OrderID: id})
}

func (s *Server) handleCancelOrders(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "no order ids", "")
		return
	}

	digest := crypto.CancelDigest(req.IDs, req.Nonce)
	caller, ok := s.recoverSigner(w, digest, req.Signature, req.Nonce)
	if !ok {
		return
	}

	if err := s.exchange.CancelOrders(caller, req.IDs); err != nil {
		respondDexError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleDetailOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	o, err := s.exchange.DetailOrder(id)
	if err != nil {
		respondDexError(w, err)
		return
	}
	respondJSON(w, s.orderInfo(o.ID))
}

// ==============================
// Settlement handlers
// ==============================

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	s.settle(w, r, false)
}

func (s *Server) handleSettleWithRefund(w http.ResponseWriter, r *http.Request) {
	s.settle(w, r, true)
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request, withRefund bool) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	digest := crypto.SettleDigest(req.BidIDs, req.AskIDs, req.Amounts, withRefund, req.Nonce)
	caller, ok := s.recoverSigner(w, digest, req.Signature, req.Nonce)
	if !ok {
		return
	}

	var (
		settlements []dex.Settlement
		err         error
	)
	if withRefund {
		settlements, err = s.gate.ExecuteMatchesWithRefund(caller, req.BidIDs, req.AskIDs, req.Amounts)
	} else {
		settlements, err = s.gate.ExecuteMatches(caller, req.BidIDs, req.AskIDs, req.Amounts)
	}
	if err != nil {
		respondDexError(w, err)
		return
	}

	infos := make([]SettlementInfo, len(settlements))
	for i, st := range settlements {
		infos[i] = settlementInfo(st)
	}
	respondJSON(w, SettleResponse{Status: "settled", Settlements: infos})
}

// ==============================
// Query handlers
// ==============================

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addrStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addrStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addrStr)

	respondJSON(w, AccountInfo{
		Address: addr.Hex(),
		Balance: s.bank.BalanceOf(addr),
	})
}

func (s *Server) handleGetAssetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addrStr := vars["address"]
	if !common.IsHexAddress(addrStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset id", err.Error())
		return
	}
	addr := common.HexToAddress(addrStr)

	respondJSON(w, AssetBalanceInfo{
		Address: addr.Hex(),
		Token:   s.tokens.Address().Hex(),
		AssetID: id,
		Balance: s.tokens.BalanceOf(addr, id),
	})
}

// ==============================
// Devnet admin handlers
// ==============================

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if !s.devFaucet {
		respondError(w, http.StatusForbidden, "faucet disabled", "")
		return
	}
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	if err := s.bank.Deposit(common.HexToAddress(req.Address), req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, "deposit failed", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "funded"})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if !s.devFaucet {
		respondError(w, http.StatusForbidden, "faucet disabled", "")
		return
	}
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	if err := s.tokens.Mint(common.HexToAddress(req.Address), req.AssetID, req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, "mint failed", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "minted"})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if !s.devFaucet {
		respondError(w, http.StatusForbidden, "faucet disabled", "")
		return
	}
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Token) {
		respondError(w, http.StatusBadRequest, "invalid token address", "")
		return
	}
	token := common.HexToAddress(req.Token)

	digest := crypto.ApproveDigest(token, s.exchange.Addr(), req.Approved, req.Nonce)
	owner, ok := s.recoverSigner(w, digest, req.Signature, req.Nonce)
	if !ok {
		return
	}

	s.tokens.SetApprovalForAll(owner, s.exchange.Addr(), req.Approved)
	respondJSON(w, map[string]string{"status": "approved"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Event broadcasting
// ==============================

func (s *Server) broadcastOrder(o orderSnapshot) {
	s.hub.BroadcastToChannel("orders", OrderEvent{Type: "order", Order: orderInfoFrom(o, s.exchange.Escrow().Held(o.ID))})
}

func (s *Server) broadcastSettlement(st dex.Settlement) {
	s.hub.BroadcastToChannel("settlements", SettlementEvent{Type: "settlement", Settlement: settlementInfo(st)})
}

// ==============================
// Helpers
// ==============================

// recoverSigner verifies the signature, recovers the signer address, and
// enforces strictly increasing nonces per signer.
func (s *Server) recoverSigner(w http.ResponseWriter, digest []byte, sigHex string, nonce uint64) (common.Address, bool) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature encoding", err.Error())
		return common.Address{}, false
	}
	signer, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		respondError(w, http.StatusBadRequest, "signature recovery failed", err.Error())
		return common.Address{}, false
	}

	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	if nonce <= s.nonces[signer] {
		respondError(w, http.StatusConflict, "nonce too low",
			"nonce must exceed the highest nonce already used by this address")
		return common.Address{}, false
	}
	s.nonces[signer] = nonce
	return signer, true
}

func (s *Server) orderInfo(id uint64) OrderInfo {
	o, err := s.exchange.DetailOrder(id)
	if err != nil {
		return OrderInfo{ID: id}
	}
	return orderInfoFrom(*o, s.exchange.Escrow().Held(id))
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: detail})
}

// respondDexError maps the core's error taxonomy to HTTP statuses while
// keeping the sentinel text matchable in the body.
func respondDexError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, dex.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, dex.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dex.ErrOrderInactive),
		errors.Is(err, dex.ErrAlreadyInactive),
		errors.Is(err, dex.ErrNotOwner):
		status = http.StatusConflict
	}
	respondError(w, status, err.Error(), "")
}
