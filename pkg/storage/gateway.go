package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/solswap/engine/params"
	"github.com/solswap/engine/pkg/order"
)

// ErrOrderNotFound is returned when reading an unknown order ID.
var ErrOrderNotFound = errors.New("order not found")

// Gateway is the persistence layer for orders and their execution history.
// Orders are the only mutable rows; quotes, executions and retry log
// entries are append-only and never deleted here.
type Gateway struct {
	db *gorm.DB
}

// Open connects to PostgreSQL and migrates the schema.
func Open(cfg params.Database) (*Gateway, error) {
	db, err := gorm.Open(postgres.Open(dsn(cfg)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	g := &Gateway{db: db}
	if err := g.migrate(); err != nil {
		return nil, err
	}
	return g, nil
}

// NewWithDB wraps an existing gorm connection and migrates the schema.
// Tests open it over an embedded sqlite database.
func NewWithDB(db *gorm.DB) (*Gateway, error) {
	g := &Gateway{db: db}
	if err := g.migrate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) migrate() error {
	if err := g.db.AutoMigrate(&OrderRecord{}, &QuoteRecord{}, &ExecutionRecord{}, &RetryRecord{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (g *Gateway) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database connection.
func (g *Gateway) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateOrder inserts a new order row.
func (g *Gateway) CreateOrder(ctx context.Context, ord order.Order) error {
	rec := OrderRecord{
		OrderID:   ord.OrderID,
		TokenIn:   ord.TokenIn,
		TokenOut:  ord.TokenOut,
		AmountIn:  ord.AmountIn,
		OrderType: string(ord.Type),
		Status:    string(ord.Status),
		CreatedAt: ord.CreatedAt,
		UpdatedAt: ord.UpdatedAt,
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create order %s: %w", ord.OrderID, err)
	}
	return nil
}

// GetOrder reads one order by ID.
func (g *Gateway) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	var rec OrderRecord
	err := g.db.WithContext(ctx).First(&rec, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return order.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return rec.toOrder(), nil
}

// UpdateOrderStatus overwrites the order's status and bumps updated_at.
func (g *Gateway) UpdateOrderStatus(ctx context.Context, orderID string, status order.Status) error {
	err := g.db.WithContext(ctx).Model(&OrderRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{"status": string(status), "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("update order %s status: %w", orderID, err)
	}
	return nil
}

// RecentOrders lists the newest orders, most recent first.
func (g *Gateway) RecentOrders(ctx context.Context, limit int) ([]order.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []OrderRecord
	err := g.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("recent orders: %w", err)
	}
	out := make([]order.Order, len(recs))
	for i, r := range recs {
		out[i] = r.toOrder()
	}
	return out, nil
}

// SaveQuote appends a historical quote row.
func (g *Gateway) SaveQuote(ctx context.Context, orderID string, q order.Quote) error {
	rec := QuoteRecord{
		OrderID:         orderID,
		Dex:             string(q.Venue),
		Price:           q.Price,
		Fee:             q.Fee,
		EstimatedOutput: q.EstimatedOutput,
		CreatedAt:       q.Timestamp,
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save quote for %s: %w", orderID, err)
	}
	return nil
}

// SaveExecution appends the successful execution row.
func (g *Gateway) SaveExecution(ctx context.Context, res order.ExecutionResult) error {
	rec := ExecutionRecord{
		OrderID:       res.OrderID,
		Dex:           string(res.Venue),
		TxHash:        res.TxHash,
		ExecutedPrice: res.ExecutedPrice,
		AmountOut:     res.AmountOut,
		Fee:           res.Fee,
		Status:        string(order.StatusConfirmed),
		CreatedAt:     res.Timestamp,
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save execution for %s: %w", res.OrderID, err)
	}
	return nil
}

// SaveFailedExecution appends a terminal-failure row carrying the error.
func (g *Gateway) SaveFailedExecution(ctx context.Context, orderID, errorMessage string) error {
	rec := ExecutionRecord{
		OrderID:      orderID,
		Dex:          "unknown",
		Status:       string(order.StatusFailed),
		ErrorMessage: errorMessage,
		CreatedAt:    time.Now().UTC(),
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save failed execution for %s: %w", orderID, err)
	}
	return nil
}

// LogRetry appends a retry-log row for a failed attempt.
func (g *Gateway) LogRetry(ctx context.Context, orderID string, attempt int, errorMessage string, retryAt time.Time) error {
	rec := RetryRecord{
		OrderID:      orderID,
		Attempt:      attempt,
		ErrorMessage: errorMessage,
		RetryAt:      retryAt,
		CreatedAt:    time.Now().UTC(),
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("log retry for %s: %w", orderID, err)
	}
	return nil
}

// ExecutionHistory lists execution rows for one order, newest first.
func (g *Gateway) ExecutionHistory(ctx context.Context, orderID string) ([]ExecutionRecord, error) {
	var recs []ExecutionRecord
	err := g.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("execution history for %s: %w", orderID, err)
	}
	return recs, nil
}

func dsn(cfg params.Database) string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Name,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	query := url.Values{}
	if cfg.SSLMode != "" {
		query.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = query.Encode()
	return u.String()
}
