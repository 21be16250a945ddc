package api

import (
	"github.com/solswap/engine/pkg/order"
	"github.com/solswap/engine/pkg/queue"
	"github.com/solswap/engine/pkg/storage"
)

// SubmitOrderRequest is the payload for POST /api/orders/execute.
type SubmitOrderRequest struct {
	TokenIn   string   `json:"tokenIn"`
	TokenOut  string   `json:"tokenOut"`
	AmountIn  float64  `json:"amountIn"`
	OrderType string   `json:"orderType,omitempty"`
	Slippage  *float64 `json:"slippage,omitempty"`
}

// SubmitOrderResponse is returned on successful submission. The client is
// expected to open the websocket URL for live status.
type SubmitOrderResponse struct {
	OrderID      string       `json:"orderId"`
	Status       order.Status `json:"status"`
	Message      string       `json:"message"`
	WebsocketURL string       `json:"websocketUrl"`
}

// OrderListResponse wraps GET /api/orders.
type OrderListResponse struct {
	Orders []order.Order `json:"orders"`
	Count  int           `json:"count"`
}

// ExecutionHistoryResponse wraps GET /api/orders/{orderId}/executions.
type ExecutionHistoryResponse struct {
	Executions []storage.ExecutionRecord `json:"executions"`
	Count      int                       `json:"count"`
}

// HealthResponse wraps GET /api/health.
type HealthResponse struct {
	Status    string                `json:"status"`
	Timestamp string                `json:"timestamp"`
	Queue     queue.MetricsSnapshot `json:"queue"`
	Websocket FanoutStats           `json:"websocket"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
