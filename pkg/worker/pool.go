package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solswap/engine/pkg/queue"
)

// Config sizes the pool.
type Config struct {
	// Concurrency caps how many jobs are processed at once.
	Concurrency int
	// RatePerWindow caps job starts per Window. Zero disables the cap.
	RatePerWindow int
	Window        time.Duration
}

func DefaultConfig() Config {
	return Config{Concurrency: 10, RatePerWindow: 100, Window: time.Minute}
}

// Pool drains the job queue under a concurrency cap and a rolling-window
// throughput cap, driving each job through the order pipeline. Each worker
// processes one job fully before taking the next.
type Pool struct {
	cfg          Config
	jobs         *queue.Queue
	store        Store
	router       Router
	broadcaster  Broadcaster
	limiter      *WindowLimiter
	log          *zap.SugaredLogger
	maxAttempts  int
	initialDelay time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(cfg Config, jobs *queue.Queue, store Store, router Router, broadcaster Broadcaster, log *zap.SugaredLogger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Pool{
		cfg:          cfg,
		jobs:         jobs,
		store:        store,
		router:       router,
		broadcaster:  broadcaster,
		limiter:      NewWindowLimiter(cfg.RatePerWindow, cfg.Window),
		log:          log,
		maxAttempts:  jobs.MaxAttempts(),
		initialDelay: jobs.InitialDelay(),
	}
}

// Start launches the worker goroutines. They run until Stop.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.log.Infow("worker_pool_started",
		"concurrency", p.cfg.Concurrency,
		"rate_limit", p.cfg.RatePerWindow, "window", p.cfg.Window)
}

// Stop ends dequeuing and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Infow("worker_pool_stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			p.log.Errorw("dequeue_failed", "worker", id, "err", err)
			continue
		}

		// Rate slot with the job in hand, so the window counts actual
		// starts rather than idle reservations. The cap delays the start,
		// it never drops the job.
		if err := p.limiter.Wait(ctx); err != nil {
			// Shutting down before the job started; hand it back without
			// burning an attempt.
			if relErr := p.jobs.Release(job); relErr != nil {
				p.log.Errorw("release_failed", "worker", id, "job_id", job.ID, "err", relErr)
			}
			return
		}

		// The job must be settled even if the service is shutting down;
		// use a fresh context so mid-flight persistence is not cut off.
		verdict := p.process(context.Background(), job)
		if err := p.jobs.Settle(job, verdict); err != nil {
			p.log.Errorw("settle_failed", "worker", id, "job_id", job.ID, "err", err)
		}
	}
}
