package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/custodex/custodex/pkg/exchange"
)

// Server exposes the exchange's public operations over REST and streams its
// event log over WebSocket. Caller identity is an explicit request field:
// authentication belongs to the host environment, not this surface.
type Server struct {
	ex     *exchange.Exchange
	store  *exchange.Store
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

// NewServer creates an API server over the exchange and its store.
func NewServer(ex *exchange.Exchange, store *exchange.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ex:     ex,
		store:  store,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		log:    logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Reads
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/balances/{asset}/{owner}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/count", s.handleGetOrderCount).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// Operations
	api.HandleFunc("/deposits/native", s.handleDepositNative).Methods("POST")
	api.HandleFunc("/deposits/token", s.handleDepositToken).Methods("POST")
	api.HandleFunc("/withdrawals/native", s.handleWithdrawNative).Methods("POST")
	api.HandleFunc("/withdrawals/token", s.handleWithdrawToken).Methods("POST")
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}/fill", s.handleFillOrder).Methods("POST")

	// WebSocket event stream
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler with CORS applied, for tests and custom
// servers.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the hub, bridges the exchange feed into it, and serves.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	events, cancel := s.ex.Feed().Subscribe(256)
	defer cancel()
	go func() {
		for ev := range events {
			s.hub.Broadcast(ev)
		}
	}()

	s.log.Info("api_listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ConfigInfo{
		FeeAccount:    s.ex.FeeAccount().Hex(),
		FeePercent:    s.ex.FeePercent(),
		AllowSelfFill: s.ex.AllowSelfFill(),
		NativeAsset:   exchange.NativeAsset.Hex(),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	asset, ok := parseAddress(vars["asset"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset", vars["asset"])
		return
	}
	owner, ok := parseAddress(vars["owner"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid owner", vars["owner"])
		return
	}

	respondJSON(w, BalanceInfo{
		Asset:   asset.Hex(),
		Owner:   owner.Hex(),
		Balance: s.ex.BalanceOf(asset, owner).Dec(),
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.ex.Orders()
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrderCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, OrderCountInfo{Count: s.ex.OrderCount()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	o, err := s.ex.Order(id)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	events, err := s.store.RecentEvents(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "event query failed", err.Error())
		return
	}
	if events == nil {
		events = []json.RawMessage{}
	}
	respondJSON(w, events)
}

func (s *Server) handleDepositNative(w http.ResponseWriter, r *http.Request) {
	_, caller, amount, ok := s.decodeTransfer(w, r, false)
	if !ok {
		return
	}
	if err := s.ex.DepositNative(caller, amount); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, OpResult{Status: "ok"})
}

func (s *Server) handleDepositToken(w http.ResponseWriter, r *http.Request) {
	req, caller, amount, ok := s.decodeTransfer(w, r, true)
	if !ok {
		return
	}
	asset := common.HexToAddress(req.Asset)
	if err := s.ex.DepositToken(caller, asset, amount); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, OpResult{Status: "ok"})
}

func (s *Server) handleWithdrawNative(w http.ResponseWriter, r *http.Request) {
	_, caller, amount, ok := s.decodeTransfer(w, r, false)
	if !ok {
		return
	}
	if err := s.ex.WithdrawNative(caller, amount); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, OpResult{Status: "ok"})
}

func (s *Server) handleWithdrawToken(w http.ResponseWriter, r *http.Request) {
	req, caller, amount, ok := s.decodeTransfer(w, r, true)
	if !ok {
		return
	}
	asset := common.HexToAddress(req.Asset)
	if err := s.ex.WithdrawToken(caller, asset, amount); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, OpResult{Status: "ok"})
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid caller", req.Caller)
		return
	}
	assetGet, ok := parseAddress(req.AssetGet)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid assetGet", req.AssetGet)
		return
	}
	assetGive, ok := parseAddress(req.AssetGive)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid assetGive", req.AssetGive)
		return
	}
	amountGet, err := uint256.FromDecimal(req.AmountGet)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amountGet", req.AmountGet)
		return
	}
	amountGive, err := uint256.FromDecimal(req.AmountGive)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amountGive", req.AmountGive)
		return
	}

	id, err := s.ex.MakeOrder(caller, assetGet, amountGet, assetGive, amountGive)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, OpResult{Status: "ok", OrderID: id})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.ex.CancelOrder)
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.ex.FillOrder)
}

func (s *Server) handleOrderAction(w http.ResponseWriter, r *http.Request, action func(common.Address, uint64) error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid caller", req.Caller)
		return
	}

	if err := action(caller, id); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, OpResult{Status: "ok", OrderID: id})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

// decodeTransfer parses the shared deposit/withdraw body. wantAsset requires
// a valid non-empty asset field (the token paths).
func (s *Server) decodeTransfer(w http.ResponseWriter, r *http.Request, wantAsset bool) (TransferRequest, common.Address, *uint256.Int, bool) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body", err.Error())
		return req, common.Address{}, nil, false
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid caller", req.Caller)
		return req, common.Address{}, nil, false
	}
	if wantAsset && !common.IsHexAddress(req.Asset) {
		respondError(w, http.StatusBadRequest, "invalid asset", req.Asset)
		return req, common.Address{}, nil, false
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", req.Amount)
		return req, common.Address{}, nil, false
	}
	return req, caller, amount, true
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func orderInfo(o *exchange.Order) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		Owner:      o.Owner.Hex(),
		AssetGet:   o.AssetGet.Hex(),
		AmountGet:  o.AmountGet.Dec(),
		AssetGive:  o.AssetGive.Hex(),
		AmountGive: o.AmountGive.Dec(),
		Timestamp:  o.Timestamp,
		Cancelled:  o.Cancelled,
		Filled:     o.Filled,
	}
}

// respondOpError maps the exchange error taxonomy onto HTTP statuses.
func respondOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found", err.Error())
	case errors.Is(err, exchange.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "not order owner", err.Error())
	case errors.Is(err, exchange.ErrOrderTerminal):
		respondError(w, http.StatusConflict, "order already cancelled or filled", err.Error())
	case errors.Is(err, exchange.ErrSelfFill):
		respondError(w, http.StatusConflict, "self fill not permitted", err.Error())
	case errors.Is(err, exchange.ErrInvalidAsset),
		errors.Is(err, exchange.ErrUnroutedValue):
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
	case errors.Is(err, exchange.ErrInsufficientBalance),
		errors.Is(err, exchange.ErrTransferFailed):
		respondError(w, http.StatusUnprocessableEntity, "transfer rejected", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
