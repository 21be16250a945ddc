package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/solswap/engine/pkg/order"
	"github.com/solswap/engine/pkg/queue"
)

// Store is the slice of the persistence gateway the pipeline writes through.
type Store interface {
	UpdateOrderStatus(ctx context.Context, orderID string, status order.Status) error
	SaveQuote(ctx context.Context, orderID string, q order.Quote) error
	SaveExecution(ctx context.Context, res order.ExecutionResult) error
	SaveFailedExecution(ctx context.Context, orderID, errorMessage string) error
	LogRetry(ctx context.Context, orderID string, attempt int, errorMessage string, retryAt time.Time) error
}

// Router is the venue routing surface the pipeline drives.
type Router interface {
	BestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (order.Quote, []order.Quote)
	Execute(ctx context.Context, venue order.Venue, ord order.Order, quote order.Quote) (order.ExecutionResult, error)
}

// Broadcaster publishes status events. Delivery is best effort and never
// fails the pipeline.
type Broadcaster interface {
	Publish(update order.StatusUpdate)
}

// process drives one delivery attempt through the order state machine and
// returns the queue verdict. A retried job re-enters here from the top:
// nothing from the previous attempt is reused, fresh quotes are fetched
// and persisted every time.
func (p *Pool) process(ctx context.Context, job queue.Job) queue.Verdict {
	ord := job.Order
	attempt := job.AttemptsMade + 1

	p.log.Infow("processing_order", "order_id", ord.OrderID,
		"attempt", attempt, "max_attempts", p.maxAttempts)

	// Step 1: routing. Quote both venues, persist winner and losers.
	if err := p.transition(ctx, &ord, order.StatusRouting,
		"Comparing prices from Raydium and Meteora", nil); err != nil {
		return p.failure(ctx, job, err)
	}
	best, all := p.router.BestQuote(ctx, ord.TokenIn, ord.TokenOut, ord.AmountIn)
	for _, q := range all {
		if err := p.store.SaveQuote(ctx, ord.OrderID, q); err != nil {
			return p.failure(ctx, job, err)
		}
	}

	// Step 2: building.
	if err := p.transition(ctx, &ord, order.StatusBuilding,
		"Building transaction for "+string(best.Venue), order.BuildingData{
			SelectedVenue:   best.Venue,
			EstimatedOutput: best.EstimatedOutput,
			Fee:             best.Fee,
		}); err != nil {
		return p.failure(ctx, job, err)
	}

	// Step 3: submitted.
	if err := p.transition(ctx, &ord, order.StatusSubmitted,
		"Transaction submitted to blockchain", nil); err != nil {
		return p.failure(ctx, job, err)
	}

	// Step 4: execute on the selected venue.
	res, err := p.router.Execute(ctx, best.Venue, ord, best)
	if err != nil {
		return p.failure(ctx, job, err)
	}

	// Step 5: confirmed. Persist the order and the immutable execution row.
	if err := p.transitionWith(ctx, &ord, order.StatusConfirmed,
		"Transaction confirmed successfully", order.ConfirmedData{
			TxHash:        res.TxHash,
			ExecutedPrice: res.ExecutedPrice,
			AmountOut:     res.AmountOut,
			Venue:         res.Venue,
		}, func() error {
			return p.store.SaveExecution(ctx, res)
		}); err != nil {
		return p.failure(ctx, job, err)
	}

	p.log.Infow("order_executed", "order_id", ord.OrderID,
		"tx_hash", res.TxHash[:16]+"...", "dex", res.Venue)
	return queue.Complete()
}

// transition persists the new status, updates the in-memory order, and
// broadcasts the event. Persistence failure aborts the transition; a
// half-written order takes the same retry path as a failed swap.
func (p *Pool) transition(ctx context.Context, ord *order.Order, to order.Status, message string, data any) error {
	return p.transitionWith(ctx, ord, to, message, data, nil)
}

func (p *Pool) transitionWith(ctx context.Context, ord *order.Order, to order.Status, message string, data any, extra func() error) error {
	if _, err := ord.Status.Transition(to); err != nil {
		return err
	}
	if err := p.store.UpdateOrderStatus(ctx, ord.OrderID, to); err != nil {
		return err
	}
	if extra != nil {
		if err := extra(); err != nil {
			return err
		}
	}
	ord.Status = to
	ord.UpdatedAt = time.Now().UTC()
	p.broadcaster.Publish(order.NewStatusUpdate(ord.OrderID, to, message, data))
	return nil
}

// failure decides retry versus terminal failure for this attempt.
//
// On retry the persisted order status is deliberately left mid-flight; the
// broadcast PENDING event is the only "regression" and the next attempt's
// first transition overwrites the row.
func (p *Pool) failure(ctx context.Context, job queue.Job, cause error) queue.Verdict {
	ord := job.Order
	attempt := job.AttemptsMade + 1
	errMsg := cause.Error()

	p.log.Errorw("order_attempt_failed", "order_id", ord.OrderID,
		"attempt", attempt, "err", errMsg)

	if attempt < p.maxAttempts {
		delay := queue.NextDelay(attempt, p.initialDelay)
		retryAt := time.Now().UTC().Add(delay)

		if err := p.store.LogRetry(ctx, ord.OrderID, attempt, errMsg, retryAt); err != nil {
			p.log.Errorw("retry_log_write_failed", "order_id", ord.OrderID, "err", err)
		}
		p.broadcaster.Publish(order.NewStatusUpdate(ord.OrderID, order.StatusPending,
			retryMessage(attempt, p.maxAttempts), order.RetryData{
				Error:     errMsg,
				RetryAt:   retryAt,
				NextDelay: delay.Milliseconds(),
			}))
		return queue.Retry(delay, cause)
	}

	if err := p.store.UpdateOrderStatus(ctx, ord.OrderID, order.StatusFailed); err != nil {
		p.log.Errorw("failed_status_write_failed", "order_id", ord.OrderID, "err", err)
	}
	if err := p.store.SaveFailedExecution(ctx, ord.OrderID, errMsg); err != nil {
		p.log.Errorw("failed_execution_write_failed", "order_id", ord.OrderID, "err", err)
	}
	p.broadcaster.Publish(order.NewStatusUpdate(ord.OrderID, order.StatusFailed,
		"Order failed after maximum retry attempts", order.FailedData{
			Error:    errMsg,
			Attempts: attempt,
		}))
	p.log.Errorw("order_permanently_failed", "order_id", ord.OrderID, "attempts", attempt)
	return queue.Fail(cause)
}

func retryMessage(attempt, max int) string {
	return fmt.Sprintf("Retry attempt %d/%d scheduled", attempt, max)
}
