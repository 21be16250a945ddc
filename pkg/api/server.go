package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/solswap/engine/pkg/bus"
	"github.com/solswap/engine/pkg/order"
	"github.com/solswap/engine/pkg/queue"
	"github.com/solswap/engine/pkg/storage"
	"github.com/solswap/engine/pkg/util"
)

// OrderStore is the slice of the persistence gateway the API reads/writes.
type OrderStore interface {
	CreateOrder(ctx context.Context, ord order.Order) error
	GetOrder(ctx context.Context, orderID string) (order.Order, error)
	RecentOrders(ctx context.Context, limit int) ([]order.Order, error)
	ExecutionHistory(ctx context.Context, orderID string) ([]storage.ExecutionRecord, error)
	Ping(ctx context.Context) error
}

// Jobs is the queue surface the submission boundary needs.
type Jobs interface {
	Enqueue(ord order.Order) (string, error)
	Metrics() queue.MetricsSnapshot
}

// Server handles REST API and WebSocket connections.
type Server struct {
	store  OrderStore
	jobs   Jobs
	fanout *Fanout
	router *mux.Router
	log    *zap.SugaredLogger

	allowedOrigins []string
	httpServer     *http.Server
}

func NewServer(store OrderStore, jobs Jobs, statusBus *bus.Bus, allowedOrigins []string, log *zap.SugaredLogger) *Server {
	s := &Server{
		store:          store,
		jobs:           jobs,
		fanout:         NewFanout(statusBus, log),
		router:         mux.NewRouter(),
		log:            log,
		allowedOrigins: allowedOrigins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/orders/execute", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{orderId}/stream", s.handleStream).Methods("GET")
	api.HandleFunc("/orders/{orderId}/executions", s.handleExecutionHistory).Methods("GET")
	api.HandleFunc("/orders/{orderId}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/", s.handleRoot).Methods("GET")
}

// Fanout exposes the fan-out service (stats, tests).
func (s *Server) Fanout() *Fanout { return s.fanout }

// Start begins serving on addr and blocks until Shutdown or failure.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: c.Handler(s.router),
	}

	s.log.Infow("api_server_starting", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "Order Execution Engine",
		"version": "1.0.0",
		"status":  "running",
		"endpoints": map[string]string{
			"submitOrder":  "POST /api/orders/execute",
			"orderStream":  "WS /api/orders/{orderId}/stream",
			"orderDetails": "GET /api/orders/{orderId}",
			"executions":   "GET /api/orders/{orderId}/executions",
			"recentOrders": "GET /api/orders",
			"health":       "GET /api/health",
		},
	})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	ord, err := validateSubmission(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	s.log.Infow("order_submitted", "order_id", ord.OrderID,
		"token_in", ord.TokenIn, "token_out", ord.TokenOut, "amount_in", ord.AmountIn)

	if err := s.store.CreateOrder(r.Context(), ord); err != nil {
		s.log.Errorw("order_create_failed", "order_id", ord.OrderID, "err", err)
		respondError(w, http.StatusInternalServerError, "internal server error", err.Error())
		return
	}
	if _, err := s.jobs.Enqueue(ord); err != nil {
		s.log.Errorw("order_enqueue_failed", "order_id", ord.OrderID, "err", err)
		respondError(w, http.StatusInternalServerError, "internal server error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, SubmitOrderResponse{
		OrderID:      ord.OrderID,
		Status:       ord.Status,
		Message:      "Order submitted successfully. Connect via WebSocket for updates.",
		WebsocketURL: fmt.Sprintf("/api/orders/%s/stream", ord.OrderID),
	})
}

func validateSubmission(req SubmitOrderRequest) (order.Order, error) {
	if req.TokenIn == "" {
		return order.Order{}, errors.New("tokenIn is required")
	}
	if req.TokenOut == "" {
		return order.Order{}, errors.New("tokenOut is required")
	}
	if req.AmountIn <= 0 {
		return order.Order{}, errors.New("amountIn must be positive")
	}
	orderType, err := order.ParseType(req.OrderType)
	if err != nil {
		return order.Order{}, err
	}
	if req.Slippage != nil && (*req.Slippage < 0 || *req.Slippage > 1) {
		return order.Order{}, errors.New("slippage must be between 0 and 1")
	}

	now := time.Now().UTC()
	return order.Order{
		OrderID:   util.NewOrderID(),
		TokenIn:   req.TokenIn,
		TokenOut:  req.TokenOut,
		AmountIn:  req.AmountIn,
		Type:      orderType,
		Status:    order.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	ord, err := s.store.GetOrder(r.Context(), orderID)
	if errors.Is(err, storage.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "order not found", orderID)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal server error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ord)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	orders, err := s.store.RecentOrders(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal server error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, OrderListResponse{Orders: orders, Count: len(orders)})
}

// handleStream upgrades to WebSocket and attaches the connection to the
// order's status stream. The current persisted status is sent first so a
// late subscriber is never blind.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorw("ws_upgrade_failed", "order_id", orderID, "err", err)
		return
	}

	ord, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		payload, _ := json.Marshal(ErrorResponse{Error: "order not found", Message: orderID})
		conn.WriteMessage(websocket.TextMessage, payload)
		conn.Close()
		return
	}

	s.log.Infow("ws_connected", "order_id", orderID)

	client := newWSClient(conn)
	go client.writePump()

	snapshot := order.NewStatusUpdate(ord.OrderID, ord.Status, "Current order status", order.SnapshotData{
		TokenIn:   ord.TokenIn,
		TokenOut:  ord.TokenOut,
		AmountIn:  ord.AmountIn,
		OrderType: ord.Type,
	})
	if payload, err := json.Marshal(snapshot); err == nil {
		client.Send(payload)
	}

	s.fanout.Subscribe(orderID, client)
	go client.readPump(func() {
		s.fanout.Unsubscribe(orderID, client)
		client.Close()
		s.log.Infow("ws_disconnected", "order_id", orderID)
	})
}

// handleExecutionHistory lists execution attempts for one order, newest
// first. Unknown orders return an empty list rather than a 404; the rows
// are append-only and absence just means nothing was attempted yet.
func (s *Server) handleExecutionHistory(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	recs, err := s.store.ExecutionHistory(r.Context(), orderID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal server error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ExecutionHistoryResponse{Executions: recs, Count: len(recs)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Errorw("health_db_ping_failed", "err", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Queue:     s.jobs.Metrics(),
		Websocket: s.fanout.Stats(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	respondJSON(w, status, ErrorResponse{Error: errMsg, Message: message})
}
