package order

import (
	"encoding/json"
	"time"
)

// StatusUpdate is the event published on the message bus after every
// transition. It is observability, not authoritative state: the Order row
// stays the source of truth and delivery is never waited on.
//
// Data carries a per-status payload variant; only the fields relevant to
// that transition are present.
type StatusUpdate struct {
	OrderID   string          `json:"orderId"`
	Status    Status          `json:"status"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// BuildingData accompanies the routing -> building transition.
type BuildingData struct {
	SelectedVenue   Venue   `json:"selectedDex"`
	EstimatedOutput float64 `json:"estimatedOutput"`
	Fee             float64 `json:"fee"`
}

// ConfirmedData accompanies the terminal confirmed event.
type ConfirmedData struct {
	TxHash        string  `json:"txHash"`
	ExecutedPrice float64 `json:"executedPrice"`
	AmountOut     float64 `json:"amountOut"`
	Venue         Venue   `json:"dex"`
}

// RetryData accompanies the pending "retry scheduled" event.
type RetryData struct {
	Error     string    `json:"error"`
	RetryAt   time.Time `json:"retryAt"`
	NextDelay int64     `json:"nextDelay"` // milliseconds
}

// FailedData accompanies the terminal failed event.
type FailedData struct {
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// SnapshotData accompanies the initial status sent to a fresh stream
// subscriber, echoing the order's parameters.
type SnapshotData struct {
	TokenIn   string  `json:"tokenIn"`
	TokenOut  string  `json:"tokenOut"`
	AmountIn  float64 `json:"amountIn"`
	OrderType Type    `json:"orderType"`
}

// NewStatusUpdate builds an event, marshaling the payload variant. A payload
// that fails to marshal is dropped rather than blocking the transition.
func NewStatusUpdate(orderID string, status Status, message string, data any) StatusUpdate {
	u := StatusUpdate{
		OrderID:   orderID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			u.Data = raw
		}
	}
	return u
}
