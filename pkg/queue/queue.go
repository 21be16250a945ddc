package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/solswap/engine/pkg/order"
	"github.com/solswap/engine/pkg/util"
)

var (
	// ErrQueueFull means the ready buffer cannot accept another job. It is
	// fatal to that submission attempt and surfaced to the enqueue caller.
	ErrQueueFull = errors.New("job queue full")
	// ErrQueueClosed rejects operations after Close.
	ErrQueueClosed = errors.New("job queue closed")
	// ErrUnknownJob is returned when settling a job the queue does not hold.
	ErrUnknownJob = errors.New("unknown job")
)

// State is a job's lifecycle bucket.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) terminal() bool { return s == StateCompleted || s == StateFailed }

// Job wraps an order with its delivery bookkeeping. The job ID is the order
// ID: resubmitting the same order maps to the same job.
type Job struct {
	ID           string      `json:"id"`
	Order        order.Order `json:"order"`
	AttemptsMade int         `json:"attemptsMade"`
	State        State       `json:"state"`
	LastError    string      `json:"lastError,omitempty"`
	EnqueuedAt   time.Time   `json:"enqueuedAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	NotBefore    time.Time   `json:"notBefore,omitempty"`
}

// Retention bounds how long terminal jobs are kept for inspection.
type Retention struct {
	Count int
	Age   time.Duration
}

// Config controls queue behavior. Completed jobs are pruned aggressively;
// failed jobs are kept longer to support postmortems.
type Config struct {
	Dir                string
	MaxAttempts        int
	InitialDelay       time.Duration
	CompletedRetention Retention
	FailedRetention    Retention
	// ReadyBuffer bounds how many deliverable jobs may queue in memory.
	ReadyBuffer int
	// JanitorInterval is how often retention is enforced. Zero disables the
	// background janitor (tests call pruneExpired directly).
	JanitorInterval time.Duration
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		MaxAttempts:        3,
		InitialDelay:       time.Second,
		CompletedRetention: Retention{Count: 100, Age: 24 * time.Hour},
		FailedRetention:    Retention{Count: 500, Age: 7 * 24 * time.Hour},
		ReadyBuffer:        4096,
		JanitorInterval:    time.Minute,
	}
}

// Queue is a durable, pebble-backed job queue with at-most-one concurrent
// delivery per order ID. Jobs survive restarts: non-terminal jobs found on
// open are scheduled for redelivery.
type Queue struct {
	cfg     Config
	db      *pebble.DB
	log     *zap.SugaredLogger
	clock   util.Clock
	metrics *Metrics

	mu     sync.Mutex
	ready  chan string
	active map[string]struct{}
	timers map[string]*time.Timer
	closed bool

	janitorStop chan struct{}
	janitorDone chan struct{}
}

const jobKeyPrefix = "job:"

func jobKey(id string) []byte { return []byte(jobKeyPrefix + id) }

// Open opens (or creates) the queue at cfg.Dir and recovers persisted jobs.
func Open(cfg Config, m *Metrics, log *zap.SugaredLogger) (*Queue, error) {
	return open(cfg, m, log, util.RealClock{})
}

func open(cfg Config, m *Metrics, log *zap.SugaredLogger, clock util.Clock) (*Queue, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ReadyBuffer <= 0 {
		cfg.ReadyBuffer = 4096
	}
	if m == nil {
		m = NewMetrics(nil)
	}

	db, err := pebble.Open(cfg.Dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	q := &Queue{
		cfg:         cfg,
		db:          db,
		log:         log,
		clock:       clock,
		metrics:     m,
		ready:       make(chan string, cfg.ReadyBuffer),
		active:      make(map[string]struct{}),
		timers:      make(map[string]*time.Timer),
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}

	if err := q.recover(); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.JanitorInterval > 0 {
		go q.janitor()
	} else {
		close(q.janitorDone)
	}
	return q, nil
}

// MaxAttempts exposes the configured attempt ceiling to the worker.
func (q *Queue) MaxAttempts() int { return q.cfg.MaxAttempts }

// InitialDelay exposes the configured backoff base to the worker.
func (q *Queue) InitialDelay() time.Duration { return q.cfg.InitialDelay }

// recover rebuilds in-memory scheduling from persisted jobs. Jobs caught
// mid-delivery by a crash (active) go back to waiting; the single-delivery
// guarantee holds because nothing is in flight yet. The lock is held for
// the whole scan so a zero-delay redelivery timer cannot fire into a
// half-rebuilt schedule.
func (q *Queue) recover() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	iter, err := q.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(jobKeyPrefix),
		UpperBound: []byte(jobKeyPrefix + "\xff"),
	})
	if err != nil {
		return fmt.Errorf("queue recovery: %w", err)
	}
	defer iter.Close()

	now := q.clock.Now()
	for iter.First(); iter.Valid(); iter.Next() {
		var job Job
		if err := json.Unmarshal(iter.Value(), &job); err != nil {
			q.log.Errorw("queue_recovery_skip_corrupt_job", "key", string(iter.Key()), "err", err)
			continue
		}
		switch job.State {
		case StateCompleted:
			q.metrics.completed.Inc()
		case StateFailed:
			q.metrics.failed.Inc()
		case StateActive, StateWaiting:
			job.State = StateWaiting
			job.UpdatedAt = now
			if err := q.put(job); err != nil {
				return err
			}
			if err := q.tryPushReady(job.ID); err != nil {
				q.scheduleRedelivery(job.ID, readyRetryInterval)
			}
			q.metrics.waiting.Inc()
		case StateDelayed:
			delay := job.NotBefore.Sub(now)
			if delay < 0 {
				delay = 0
			}
			q.scheduleRedelivery(job.ID, delay)
			q.metrics.waiting.Inc()
		}
	}
	return nil
}

// Enqueue inserts a job for the order, keyed by its order ID. Enqueue is
// idempotent: while a job for the same order is non-terminal, the existing
// job ID is returned and nothing changes. A terminal job is replaced by a
// fresh one (resubmission after completion is a new execution).
func (q *Queue) Enqueue(ord order.Order) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	if existing, ok := q.get(ord.OrderID); ok && !existing.State.terminal() {
		q.log.Infow("enqueue_deduplicated", "order_id", ord.OrderID, "state", existing.State)
		return existing.ID, nil
	}

	now := q.clock.Now()
	job := Job{
		ID:         ord.OrderID,
		Order:      ord,
		State:      StateWaiting,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	// Reserve the delivery slot before persisting: a rejected enqueue must
	// leave no row behind, or resubmissions would dedupe against a job that
	// will never be delivered. If the persist below fails the reserved slot
	// holds an ID with no row, which Dequeue skips harmlessly.
	if err := q.tryPushReady(job.ID); err != nil {
		return "", err
	}
	if err := q.put(job); err != nil {
		return "", err
	}
	q.metrics.waiting.Inc()
	q.metrics.enqueued.Inc()
	q.log.Infow("order_enqueued", "order_id", ord.OrderID, "job_id", job.ID)
	return job.ID, nil
}

// Dequeue blocks until a job is deliverable or ctx is done. The returned
// job is active: exactly one worker holds it until Settle is called.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	for {
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case id, ok := <-q.ready:
			if !ok {
				return Job{}, ErrQueueClosed
			}
			job, err := q.markActive(id)
			if err != nil {
				if errors.Is(err, ErrUnknownJob) {
					continue
				}
				return Job{}, err
			}
			return job, nil
		}
	}
}

func (q *Queue) markActive(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.get(id)
	if !ok || job.State != StateWaiting {
		return Job{}, ErrUnknownJob
	}
	job.State = StateActive
	job.UpdatedAt = q.clock.Now()
	if err := q.put(job); err != nil {
		return Job{}, err
	}
	q.active[id] = struct{}{}
	q.metrics.waiting.Dec()
	q.metrics.active.Inc()
	return job, nil
}

// Settle applies the handler's verdict to an active job. Retry persists the
// incremented attempt counter and schedules redelivery after the verdict's
// delay; Complete and Fail are terminal and release the job to retention.
func (q *Queue) Settle(job Job, v Verdict) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.get(job.ID)
	if !ok || stored.State != StateActive {
		return ErrUnknownJob
	}
	delete(q.active, job.ID)
	q.metrics.active.Dec()

	stored.UpdatedAt = q.clock.Now()
	stored.LastError = v.errString()

	switch v.kind {
	case verdictComplete:
		stored.State = StateCompleted
		q.metrics.completed.Inc()
	case verdictFail:
		stored.AttemptsMade++
		stored.State = StateFailed
		q.metrics.failed.Inc()
	case verdictRetry:
		stored.AttemptsMade++
		stored.State = StateDelayed
		stored.NotBefore = stored.UpdatedAt.Add(v.delay)
		q.metrics.waiting.Inc()
		q.metrics.retries.Inc()
		if !q.closed {
			q.scheduleRedelivery(job.ID, v.delay)
		}
	}
	return q.put(stored)
}

// readyRetryInterval is how long a deliverable job waits before retrying a
// full ready buffer. Delivery is deferred, never dropped.
const readyRetryInterval = 100 * time.Millisecond

// scheduleRedelivery flips a delayed job back to waiting once its backoff
// elapses. A full ready buffer re-arms the timer instead of dropping the
// delivery. Caller holds q.mu.
func (q *Queue) scheduleRedelivery(id string, delay time.Duration) {
	q.timers[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, id)
		if q.closed {
			return
		}
		job, ok := q.get(id)
		if !ok || job.State == StateActive || job.State.terminal() {
			return
		}
		if err := q.tryPushReady(id); err != nil {
			q.scheduleRedelivery(id, readyRetryInterval)
			return
		}
		if job.State != StateWaiting {
			job.State = StateWaiting
			job.UpdatedAt = q.clock.Now()
			if err := q.put(job); err != nil {
				q.log.Errorw("redelivery_persist_failed", "job_id", id, "err", err)
			}
		}
	})
}

// Release hands an active job back undelivered, without burning an
// attempt. Used when a worker dequeued a job but shut down before starting
// it; the job returns to waiting and is redelivered.
func (q *Queue) Release(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.get(job.ID)
	if !ok || stored.State != StateActive {
		return ErrUnknownJob
	}
	delete(q.active, job.ID)
	q.metrics.active.Dec()

	stored.State = StateWaiting
	stored.UpdatedAt = q.clock.Now()
	if err := q.put(stored); err != nil {
		return err
	}
	q.metrics.waiting.Inc()
	if q.closed {
		return nil
	}
	if err := q.tryPushReady(job.ID); err != nil {
		q.scheduleRedelivery(job.ID, readyRetryInterval)
	}
	return nil
}

// Metrics reports job counts by lifecycle bucket.
func (q *Queue) Metrics() MetricsSnapshot {
	return q.metrics.snapshot()
}

// Job returns the persisted job for an order ID, if any.
func (q *Queue) Job(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.get(id)
}

// Close stops redelivery timers and the janitor, then closes the store.
// In-flight jobs are not waited for; the worker pool drains before calling
// Close.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	close(q.ready)
	q.mu.Unlock()

	close(q.janitorStop)
	<-q.janitorDone
	return q.db.Close()
}

func (q *Queue) janitor() {
	defer close(q.janitorDone)
	ticker := time.NewTicker(q.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.janitorStop:
			return
		case <-ticker.C:
			if err := q.pruneExpired(); err != nil {
				q.log.Errorw("queue_prune_failed", "err", err)
			}
		}
	}
}

// pruneExpired enforces retention: terminal jobs beyond the count ceiling
// or older than the age ceiling are deleted.
func (q *Queue) pruneExpired() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}

	var completed, failed []Job

	iter, err := q.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(jobKeyPrefix),
		UpperBound: []byte(jobKeyPrefix + "\xff"),
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		var job Job
		if err := json.Unmarshal(iter.Value(), &job); err != nil {
			continue
		}
		switch job.State {
		case StateCompleted:
			completed = append(completed, job)
		case StateFailed:
			failed = append(failed, job)
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}

	now := q.clock.Now()
	prune := func(jobs []Job, r Retention) error {
		// Newest first; everything past the count ceiling or age ceiling goes.
		sort.Slice(jobs, func(i, j int) bool {
			return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
		})
		for i, job := range jobs {
			expired := r.Age > 0 && now.Sub(job.UpdatedAt) > r.Age
			overCount := r.Count > 0 && i >= r.Count
			if !expired && !overCount {
				continue
			}
			if err := q.db.Delete(jobKey(job.ID), pebble.Sync); err != nil {
				return err
			}
			q.log.Debugw("job_pruned", "job_id", job.ID, "state", job.State)
		}
		return nil
	}
	if err := prune(completed, q.cfg.CompletedRetention); err != nil {
		return err
	}
	return prune(failed, q.cfg.FailedRetention)
}

// get loads a job by ID. Caller holds q.mu.
func (q *Queue) get(id string) (Job, bool) {
	val, closer, err := q.db.Get(jobKey(id))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			q.log.Errorw("job_load_failed", "job_id", id, "err", err)
		}
		return Job{}, false
	}
	defer closer.Close()
	var job Job
	if err := json.Unmarshal(val, &job); err != nil {
		q.log.Errorw("job_decode_failed", "job_id", id, "err", err)
		return Job{}, false
	}
	return job, true
}

// put persists a job durably. Caller holds q.mu.
func (q *Queue) put(job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := q.db.Set(jobKey(job.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) tryPushReady(id string) error {
	select {
	case q.ready <- id:
		return nil
	default:
		return ErrQueueFull
	}
}
