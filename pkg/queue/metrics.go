package queue

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSnapshot is the health-check view of queue occupancy. Delayed jobs
// count as waiting: they will be delivered, just not yet.
type MetricsSnapshot struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

// counter tracks a lifecycle bucket both as a cheap atomic (for the JSON
// health payload) and as a prometheus gauge.
type counter struct {
	n     atomic.Int64
	gauge prometheus.Gauge
}

func (c *counter) Inc() {
	c.n.Add(1)
	c.gauge.Inc()
}

func (c *counter) Dec() {
	c.n.Add(-1)
	c.gauge.Dec()
}

func (c *counter) value() int64 { return c.n.Load() }

// Metrics holds the queue's instruments. One instance is shared between the
// queue and the /metrics endpoint.
type Metrics struct {
	waiting   *counter
	active    *counter
	completed *counter
	failed    *counter
	enqueued  prometheus.Counter
	retries   prometheus.Counter
}

// NewMetrics builds and registers the queue instruments. A nil registerer
// skips registration (tests that only need counts).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	newCounter := func(name, help string) *counter {
		return &counter{gauge: prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})}
	}
	m := &Metrics{
		waiting:   newCounter("order_queue_waiting_jobs", "Jobs waiting or delayed for delivery."),
		active:    newCounter("order_queue_active_jobs", "Jobs currently held by a worker."),
		completed: newCounter("order_queue_completed_jobs", "Jobs finished successfully (within retention)."),
		failed:    newCounter("order_queue_failed_jobs", "Jobs terminally failed (within retention)."),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_queue_enqueued_total",
			Help: "Jobs accepted by Enqueue.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_queue_retries_total",
			Help: "Retry verdicts applied.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.waiting.gauge, m.active.gauge, m.completed.gauge,
			m.failed.gauge, m.enqueued, m.retries,
		)
	}
	return m
}

func (m *Metrics) snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Waiting:   m.waiting.value(),
		Active:    m.active.value(),
		Completed: m.completed.value(),
		Failed:    m.failed.value(),
	}
	s.Total = s.Waiting + s.Active + s.Completed + s.Failed
	return s
}
