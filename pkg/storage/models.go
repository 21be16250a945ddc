package storage

import (
	"time"

	"github.com/solswap/engine/pkg/order"
)

// OrderRecord is the authoritative order row.
type OrderRecord struct {
	OrderID   string    `gorm:"column:order_id;primaryKey;size:50"`
	TokenIn   string    `gorm:"column:token_in;size:100;not null"`
	TokenOut  string    `gorm:"column:token_out;size:100;not null"`
	AmountIn  float64   `gorm:"column:amount_in;not null"`
	OrderType string    `gorm:"column:order_type;size:20;not null"`
	Status    string    `gorm:"column:status;size:20;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (OrderRecord) TableName() string { return "orders" }

func (r OrderRecord) toOrder() order.Order {
	return order.Order{
		OrderID:   r.OrderID,
		TokenIn:   r.TokenIn,
		TokenOut:  r.TokenOut,
		AmountIn:  r.AmountIn,
		Type:      order.Type(r.OrderType),
		Status:    order.Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// QuoteRecord is one venue quote fetched during routing, winner or loser.
// Append-only; each retry attempt appends a fresh set.
type QuoteRecord struct {
	ID              uint      `gorm:"primaryKey"`
	OrderID         string    `gorm:"column:order_id;size:50;index"`
	Dex             string    `gorm:"column:dex;size:20;not null"`
	Price           float64   `gorm:"column:price;not null"`
	Fee             float64   `gorm:"column:fee;not null"`
	EstimatedOutput float64   `gorm:"column:estimated_output;not null"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (QuoteRecord) TableName() string { return "dex_quotes" }

// ExecutionRecord captures one execution outcome, successful or failed.
// Append-only. Served as-is on the execution history endpoint.
type ExecutionRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	OrderID       string    `gorm:"column:order_id;size:50;index" json:"orderId"`
	Dex           string    `gorm:"column:dex;size:20;not null" json:"dex"`
	TxHash        string    `gorm:"column:tx_hash;size:100" json:"txHash,omitempty"`
	ExecutedPrice float64   `gorm:"column:executed_price" json:"executedPrice"`
	AmountOut     float64   `gorm:"column:amount_out" json:"amountOut"`
	Fee           float64   `gorm:"column:fee" json:"fee"`
	Status        string    `gorm:"column:status;size:20;not null;index" json:"status"`
	ErrorMessage  string    `gorm:"column:error_message;type:text" json:"errorMessage,omitempty"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"createdAt"`
}

func (ExecutionRecord) TableName() string { return "execution_history" }

// RetryRecord logs one failed attempt and when its retry is due.
// Append-only.
type RetryRecord struct {
	ID           uint      `gorm:"primaryKey"`
	OrderID      string    `gorm:"column:order_id;size:50;index"`
	Attempt      int       `gorm:"column:attempt;not null"`
	ErrorMessage string    `gorm:"column:error_message;type:text"`
	RetryAt      time.Time `gorm:"column:retry_at"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (RetryRecord) TableName() string { return "retry_log" }
