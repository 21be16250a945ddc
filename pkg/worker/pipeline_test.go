package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solswap/engine/pkg/order"
	"github.com/solswap/engine/pkg/queue"
)

type mockStore struct {
	mu          sync.Mutex
	statuses    []order.Status
	quotes      []order.Quote
	executions  []order.ExecutionResult
	failedExecs []string
	retryLog    []int

	statusErr error
	quoteErr  error
}

func (m *mockStore) UpdateOrderStatus(_ context.Context, _ string, status order.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockStore) SaveQuote(_ context.Context, _ string, q order.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quoteErr != nil {
		return m.quoteErr
	}
	m.quotes = append(m.quotes, q)
	return nil
}

func (m *mockStore) SaveExecution(_ context.Context, res order.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, res)
	return nil
}

func (m *mockStore) SaveFailedExecution(_ context.Context, _ string, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedExecs = append(m.failedExecs, errorMessage)
	return nil
}

func (m *mockStore) LogRetry(_ context.Context, _ string, attempt int, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryLog = append(m.retryLog, attempt)
	return nil
}

type mockRouter struct {
	execErr    error
	quoteCalls int
	execCalls  int
}

func (m *mockRouter) BestQuote(_ context.Context, _, _ string, amountIn float64) (order.Quote, []order.Quote) {
	m.quoteCalls++
	raydium := order.Quote{Venue: order.VenueRaydium, Price: 0.0100, Fee: 0.003, EstimatedOutput: amountIn * 0.0100 * 0.997}
	meteora := order.Quote{Venue: order.VenueMeteora, Price: 0.0101, Fee: 0.002, EstimatedOutput: amountIn * 0.0101 * 0.998}
	return meteora, []order.Quote{raydium, meteora}
}

func (m *mockRouter) Execute(_ context.Context, venue order.Venue, ord order.Order, quote order.Quote) (order.ExecutionResult, error) {
	m.execCalls++
	if m.execErr != nil {
		return order.ExecutionResult{}, m.execErr
	}
	return order.ExecutionResult{
		OrderID:       ord.OrderID,
		Venue:         venue,
		TxHash:        "5KtP9vQ3mW2xN8rY4hL6bZ1cD7eF0gA9jS3kM5nR8tU2wX4yV6zB1qE3oI7pH9dC5fJ2lN4mK6sT8uW0xZ3aG5hB",
		ExecutedPrice: quote.Price,
		AmountOut:     ord.AmountIn * quote.Price * (1 - quote.Fee),
		Fee:           quote.Fee,
		Timestamp:     time.Now().UTC(),
	}, nil
}

type mockBroadcaster struct {
	mu      sync.Mutex
	updates []order.StatusUpdate
}

func (m *mockBroadcaster) Publish(update order.StatusUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
}

func (m *mockBroadcaster) statuses() []order.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]order.Status, len(m.updates))
	for i, u := range m.updates {
		out[i] = u.Status
	}
	return out
}

func testPool(store *mockStore, router *mockRouter, bc *mockBroadcaster) *Pool {
	return &Pool{
		store:        store,
		router:       router,
		broadcaster:  bc,
		log:          zap.NewNop().Sugar(),
		maxAttempts:  3,
		initialDelay: time.Second,
	}
}

func pendingJob(attemptsMade int) queue.Job {
	return queue.Job{
		ID: "ORD-1",
		Order: order.Order{
			OrderID:  "ORD-1",
			TokenIn:  "SOL",
			TokenOut: "USDC",
			AmountIn: 100,
			Type:     order.TypeMarket,
			Status:   order.StatusPending,
		},
		AttemptsMade: attemptsMade,
	}
}

func TestProcessHappyPath(t *testing.T) {
	store := &mockStore{}
	router := &mockRouter{}
	bc := &mockBroadcaster{}
	p := testPool(store, router, bc)

	v := p.process(context.Background(), pendingJob(0))
	assert.Equal(t, queue.Complete(), v)

	wantStatuses := []order.Status{
		order.StatusRouting, order.StatusBuilding,
		order.StatusSubmitted, order.StatusConfirmed,
	}
	assert.Equal(t, wantStatuses, store.statuses, "persisted status sequence")
	assert.Equal(t, wantStatuses, bc.statuses(), "broadcast status sequence")

	// Both venue quotes are persisted, winner and loser alike.
	require.Len(t, store.quotes, 2)
	assert.Equal(t, order.VenueRaydium, store.quotes[0].Venue)
	assert.Equal(t, order.VenueMeteora, store.quotes[1].Venue)

	require.Len(t, store.executions, 1)
	assert.Equal(t, order.VenueMeteora, store.executions[0].Venue)
	assert.Empty(t, store.failedExecs)
	assert.Empty(t, store.retryLog)
}

func TestProcessBuildingEventCarriesWinner(t *testing.T) {
	store := &mockStore{}
	bc := &mockBroadcaster{}
	p := testPool(store, &mockRouter{}, bc)

	v := p.process(context.Background(), pendingJob(0))
	require.Equal(t, queue.Complete(), v)

	var building *order.StatusUpdate
	for i := range bc.updates {
		if bc.updates[i].Status == order.StatusBuilding {
			building = &bc.updates[i]
		}
	}
	require.NotNil(t, building)

	var data order.BuildingData
	require.NoError(t, json.Unmarshal(building.Data, &data))
	assert.Equal(t, order.VenueMeteora, data.SelectedVenue)
	assert.Equal(t, 0.002, data.Fee)
}

func TestProcessExecutionFailureSchedulesRetry(t *testing.T) {
	cause := errors.New("transaction simulation failed: network timeout")
	store := &mockStore{}
	router := &mockRouter{execErr: cause}
	bc := &mockBroadcaster{}
	p := testPool(store, router, bc)

	v := p.process(context.Background(), pendingJob(0))
	assert.Equal(t, queue.Retry(time.Second, cause), v)

	// The retry is logged and announced, but the order row is not failed.
	assert.Equal(t, []int{1}, store.retryLog)
	assert.Empty(t, store.failedExecs)
	assert.NotContains(t, store.statuses, order.StatusFailed)

	last := bc.updates[len(bc.updates)-1]
	assert.Equal(t, order.StatusPending, last.Status)

	var data order.RetryData
	require.NoError(t, json.Unmarshal(last.Data, &data))
	assert.Equal(t, cause.Error(), data.Error)
	assert.EqualValues(t, 1000, data.NextDelay)
}

func TestProcessRetryBackoffDoubles(t *testing.T) {
	cause := errors.New("transaction simulation failed: network timeout")
	store := &mockStore{}
	p := testPool(store, &mockRouter{execErr: cause}, &mockBroadcaster{})

	// Second attempt waits twice the base.
	v := p.process(context.Background(), pendingJob(1))
	assert.Equal(t, queue.Retry(2*time.Second, cause), v)
	assert.Equal(t, []int{2}, store.retryLog)
}

func TestProcessExhaustedAttemptsFailTerminally(t *testing.T) {
	cause := errors.New("transaction simulation failed: network timeout")
	store := &mockStore{}
	bc := &mockBroadcaster{}
	p := testPool(store, &mockRouter{execErr: cause}, bc)

	// Two attempts already burned; this third one is the last.
	v := p.process(context.Background(), pendingJob(2))
	assert.Equal(t, queue.Fail(cause), v)

	assert.Contains(t, store.statuses, order.StatusFailed)
	assert.Equal(t, []string{cause.Error()}, store.failedExecs)
	assert.Empty(t, store.retryLog)

	last := bc.updates[len(bc.updates)-1]
	assert.Equal(t, order.StatusFailed, last.Status)

	var data order.FailedData
	require.NoError(t, json.Unmarshal(last.Data, &data))
	assert.Equal(t, 3, data.Attempts)
	assert.Equal(t, cause.Error(), data.Error)
}

func TestProcessRetryRefetchesQuotes(t *testing.T) {
	store := &mockStore{}
	router := &mockRouter{}
	p := testPool(store, router, &mockBroadcaster{})

	// A redelivered job starts the pipeline over; nothing from the failed
	// attempt is reused.
	require.Equal(t, queue.Complete(), p.process(context.Background(), pendingJob(1)))
	assert.Equal(t, 1, router.quoteCalls)
	assert.Len(t, store.quotes, 2)
}

func TestProcessPersistenceFailureTakesRetryPath(t *testing.T) {
	dbErr := errors.New("pq: connection refused")
	store := &mockStore{quoteErr: dbErr}
	router := &mockRouter{}
	p := testPool(store, router, &mockBroadcaster{})

	v := p.process(context.Background(), pendingJob(0))
	assert.Equal(t, queue.Retry(time.Second, dbErr), v)
	assert.Equal(t, 0, router.execCalls, "no execution after a persistence failure")
}

func TestProcessStatusWriteFailureAborts(t *testing.T) {
	dbErr := errors.New("pq: connection refused")
	store := &mockStore{statusErr: dbErr}
	router := &mockRouter{}
	bc := &mockBroadcaster{}
	p := testPool(store, router, bc)

	v := p.process(context.Background(), pendingJob(0))
	assert.Equal(t, queue.Retry(time.Second, dbErr), v)
	assert.Equal(t, 0, router.quoteCalls, "routing never started")
}
