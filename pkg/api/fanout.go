package api

import (
	"sync"

	"go.uber.org/zap"

	"github.com/solswap/engine/pkg/bus"
)

// Conn is one live client connection. Send must not block indefinitely; a
// send failure marks the connection dead and it is pruned, not retried.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// Fanout multiplexes per-order bus messages to the live connections
// subscribed to that order. It holds at most one bus subscription per
// order, created lazily on the first subscriber and torn down eagerly when
// the last one leaves, so subscriptions cannot accumulate over the
// service's lifetime.
type Fanout struct {
	bus *bus.Bus
	log *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]*fanoutEntry
}

// fanoutEntry owns one order's subscriber set and bus subscription. All
// mutations of the set are serialized through mu.
type fanoutEntry struct {
	mu    sync.Mutex
	conns map[Conn]struct{}
	sub   *bus.Subscription
}

func NewFanout(b *bus.Bus, log *zap.SugaredLogger) *Fanout {
	return &Fanout{
		bus:     b,
		log:     log,
		entries: make(map[string]*fanoutEntry),
	}
}

// Subscribe attaches conn to the order's status stream.
func (f *Fanout) Subscribe(orderID string, conn Conn) {
	f.mu.Lock()
	e, ok := f.entries[orderID]
	if !ok {
		e = &fanoutEntry{conns: make(map[Conn]struct{})}
		e.sub = f.bus.Subscribe(bus.Channel(orderID))
		f.entries[orderID] = e
		go f.pump(orderID, e)
		f.log.Debugw("order_subscription_created", "order_id", orderID)
	}
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	n := len(e.conns)
	e.mu.Unlock()
	f.mu.Unlock()

	f.log.Infow("client_subscribed", "order_id", orderID, "connections", n)
}

// Unsubscribe detaches conn; the last detach tears down the bus
// subscription. Unknown pairs are ignored.
func (f *Fanout) Unsubscribe(orderID string, conn Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[orderID]
	if !ok {
		return
	}
	e.mu.Lock()
	delete(e.conns, conn)
	empty := len(e.conns) == 0
	e.mu.Unlock()

	if empty {
		delete(f.entries, orderID)
		e.sub.Close()
		f.log.Debugw("order_subscription_removed", "order_id", orderID)
	}
}

// pump drains the bus subscription for one order, delivering each message
// to every live connection. It exits when the subscription closes.
func (f *Fanout) pump(orderID string, e *fanoutEntry) {
	for payload := range e.sub.C() {
		if dead := e.deliver(payload); len(dead) > 0 {
			for _, c := range dead {
				c.Close()
				f.Unsubscribe(orderID, c)
			}
			f.log.Debugw("dead_connections_pruned", "order_id", orderID, "count", len(dead))
		}
	}
}

// deliver sends payload to all connections, returning the ones that failed.
func (e *fanoutEntry) deliver(payload []byte) []Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	var dead []Conn
	for c := range e.conns {
		if err := c.Send(payload); err != nil {
			dead = append(dead, c)
		}
	}
	return dead
}

// Stats reports live subscription counts for the health endpoint.
type FanoutStats struct {
	ActiveOrders     int `json:"activeOrders"`
	TotalConnections int `json:"totalConnections"`
}

func (f *Fanout) Stats() FanoutStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, e := range f.entries {
		e.mu.Lock()
		total += len(e.conns)
		e.mu.Unlock()
	}
	return FanoutStats{ActiveOrders: len(f.entries), TotalConnections: total}
}
