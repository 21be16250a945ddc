package dex

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solswap/engine/pkg/order"
	"github.com/solswap/engine/pkg/util"
)

// ErrVenueTimeout is the transient settlement failure injected by Execute.
// The worker retries it until attempts are exhausted.
var ErrVenueTimeout = errors.New("transaction simulation failed: network timeout")

// venueParams fixes the pricing model of one simulated venue.
type venueParams struct {
	venue      order.Venue
	varianceLo float64
	varianceHi float64
	fee        float64
}

// Config controls the simulated venue behavior.
type Config struct {
	// BasePrice anchors all quoted prices.
	BasePrice float64
	// ExecutionDelay is the base settlement latency; up to 1s jitter is added.
	ExecutionDelay time.Duration
	// FailureRate is the probability Execute fails with ErrVenueTimeout.
	FailureRate float64
}

func DefaultConfig() Config {
	return Config{
		BasePrice:      0.01,
		ExecutionDelay: 2500 * time.Millisecond,
		FailureRate:    0.05,
	}
}

// Router quotes and executes swaps against the configured simulated venues.
// All methods are safe for concurrent use.
type Router struct {
	cfg    Config
	venues []venueParams
	clock  util.Clock
	log    *zap.SugaredLogger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRouter builds a router over the two stock venues. Raydium quotes with
// variance [0.98,1.02] and a 0.3% fee; Meteora with [0.97,1.02] and 0.2%.
func NewRouter(cfg Config, log *zap.SugaredLogger) *Router {
	return newRouter(cfg, log, util.RealClock{}, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func newRouter(cfg Config, log *zap.SugaredLogger, clock util.Clock, rng *rand.Rand) *Router {
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = DefaultConfig().BasePrice
	}
	return &Router{
		cfg: cfg,
		venues: []venueParams{
			{venue: order.VenueRaydium, varianceLo: 0.98, varianceHi: 1.02, fee: 0.003},
			{venue: order.VenueMeteora, varianceLo: 0.97, varianceHi: 1.02, fee: 0.002},
		},
		clock: clock,
		log:   log,
		rng:   rng,
	}
}

// Venues returns the fixed venue enumeration order.
func (r *Router) Venues() []order.Venue {
	out := make([]order.Venue, len(r.venues))
	for i, v := range r.venues {
		out[i] = v.venue
	}
	return out
}

func (r *Router) randFloat() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *Router) newTxHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return util.NewTxHash(r.rng)
}

func (r *Router) params(v order.Venue) (venueParams, bool) {
	for _, p := range r.venues {
		if p.venue == v {
			return p, true
		}
	}
	return venueParams{}, false
}

// Quote returns a venue's offer for the swap. It simulates 200-300ms of
// network latency and never fails.
func (r *Router) Quote(ctx context.Context, venue order.Venue, tokenIn, tokenOut string, amountIn float64) order.Quote {
	r.sleep(ctx, 200*time.Millisecond+time.Duration(r.randFloat()*100)*time.Millisecond)

	p, ok := r.params(venue)
	if !ok {
		// Unknown venues quote at base price with no fee. Callers only pass
		// enumerated venues, so this path is effectively unreachable.
		p = venueParams{venue: venue, varianceLo: 1, varianceHi: 1}
	}

	variance := p.varianceLo + r.randFloat()*(p.varianceHi-p.varianceLo)
	price := r.cfg.BasePrice * variance
	q := order.Quote{
		Venue:           venue,
		Price:           price,
		Fee:             p.fee,
		EstimatedOutput: amountIn * price * (1 - p.fee),
		Timestamp:       r.clock.Now().UTC(),
	}

	r.log.Debugw("quote_received",
		"dex", venue, "token_in", tokenIn, "token_out", tokenOut,
		"amount_in", amountIn, "price", q.Price, "fee", q.Fee,
		"estimated_output", q.EstimatedOutput)
	return q
}

// BestQuote queries every venue concurrently, waits for all of them, and
// selects the strictly greatest estimated output. Ties go to the earlier
// venue in enumeration order. The returned slice preserves enumeration
// order, not completion order.
func (r *Router) BestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (order.Quote, []order.Quote) {
	r.log.Infow("fetching_quotes", "token_in", tokenIn, "token_out", tokenOut, "amount_in", amountIn)

	all := make([]order.Quote, len(r.venues))
	var wg sync.WaitGroup
	for i, p := range r.venues {
		wg.Add(1)
		go func(i int, v order.Venue) {
			defer wg.Done()
			all[i] = r.Quote(ctx, v, tokenIn, tokenOut, amountIn)
		}(i, p.venue)
	}
	wg.Wait()

	best := all[0]
	for _, q := range all[1:] {
		if q.EstimatedOutput > best.EstimatedOutput {
			best = q
		}
	}

	r.log.Infow("routing_decision", "selected", best.Venue,
		"price", best.Price, "estimated_output", best.EstimatedOutput)
	return best, all
}

// Execute settles the swap on the chosen venue. It simulates seconds-scale
// latency and fails with ErrVenueTimeout at the configured rate before any
// result is computed; no partial result is ever returned. On success the
// executed price carries slippage in [0.995,1.005] of the quoted price.
func (r *Router) Execute(ctx context.Context, venue order.Venue, ord order.Order, quote order.Quote) (order.ExecutionResult, error) {
	r.log.Infow("executing_swap", "order_id", ord.OrderID, "dex", venue,
		"token_in", ord.TokenIn, "token_out", ord.TokenOut)

	r.sleep(ctx, r.cfg.ExecutionDelay+time.Duration(r.randFloat()*1000)*time.Millisecond)

	if r.randFloat() < r.cfg.FailureRate {
		return order.ExecutionResult{}, ErrVenueTimeout
	}

	slippage := 0.995 + r.randFloat()*0.01
	executedPrice := quote.Price * slippage
	result := order.ExecutionResult{
		OrderID:       ord.OrderID,
		Venue:         venue,
		TxHash:        r.newTxHash(),
		ExecutedPrice: executedPrice,
		AmountOut:     ord.AmountIn * executedPrice * (1 - quote.Fee),
		Fee:           quote.Fee,
		Timestamp:     r.clock.Now().UTC(),
	}

	r.log.Infow("swap_executed", "order_id", ord.OrderID, "dex", venue,
		"tx_hash", result.TxHash[:16]+"...", "executed_price", result.ExecutedPrice,
		"amount_out", result.AmountOut)
	return result, nil
}

// RouteAndExecute composes BestQuote and Execute on the winner. The full
// quote set is returned so callers can persist losers too; a venue timeout
// from Execute is propagated untouched.
func (r *Router) RouteAndExecute(ctx context.Context, ord order.Order) (order.ExecutionResult, []order.Quote, error) {
	best, all := r.BestQuote(ctx, ord.TokenIn, ord.TokenOut, ord.AmountIn)
	result, err := r.Execute(ctx, best.Venue, ord, best)
	if err != nil {
		return order.ExecutionResult{}, all, err
	}
	return result, all, nil
}

func (r *Router) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-r.clock.After(d):
	}
}
