package order

import (
	"errors"
	"time"
)

// Type is the requested execution style. Only market semantics are
// implemented by the router; limit and sniper orders are accepted and
// routed identically for now.
type Type string

const (
	TypeMarket Type = "market"
	TypeLimit  Type = "limit"
	TypeSniper Type = "sniper"
)

// ParseType validates a submitted order type, defaulting empty to market.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case "":
		return TypeMarket, nil
	case TypeMarket, TypeLimit, TypeSniper:
		return Type(s), nil
	default:
		return "", errors.New("unknown order type: " + s)
	}
}

// Venue identifies a simulated liquidity source.
type Venue string

const (
	VenueRaydium Venue = "raydium"
	VenueMeteora Venue = "meteora"
)

// Order is the authoritative record of a swap request. OrderID is immutable
// after creation; Status is mutated only by the worker pipeline.
type Order struct {
	OrderID   string    `json:"orderId"`
	TokenIn   string    `json:"tokenIn"`
	TokenOut  string    `json:"tokenOut"`
	AmountIn  float64   `json:"amountIn"`
	Type      Type      `json:"orderType"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Quote is a venue's priced offer for a given swap size. Produced per
// routing call and persisted as a historical record, never mutated.
type Quote struct {
	Venue           Venue     `json:"dex"`
	Price           float64   `json:"price"`
	Fee             float64   `json:"fee"`
	EstimatedOutput float64   `json:"estimatedOutput"`
	Timestamp       time.Time `json:"timestamp"`
}

// ExecutionResult is produced exactly once per successful execution attempt.
type ExecutionResult struct {
	OrderID       string    `json:"orderId"`
	Venue         Venue     `json:"dex"`
	TxHash        string    `json:"txHash"`
	ExecutedPrice float64   `json:"executedPrice"`
	AmountOut     float64   `json:"amountOut"`
	Fee           float64   `json:"fee"`
	Timestamp     time.Time `json:"timestamp"`
}
