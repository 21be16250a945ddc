package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solswap/engine/pkg/bus"
)

type fakeConn struct {
	mu       sync.Mutex
	msgs     [][]byte
	sendFail bool
	closed   bool
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendFail {
		return errSendBufferFull
	}
	c.msgs = append(c.msgs, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestFanoutSharesOneBusSubscription(t *testing.T) {
	b := bus.New()
	defer b.Close()
	f := NewFanout(b, zap.NewNop().Sugar())

	c1, c2 := &fakeConn{}, &fakeConn{}
	f.Subscribe("ORD-1", c1)
	f.Subscribe("ORD-1", c2)

	// Two clients on the same order share a single bus subscription.
	assert.Equal(t, 1, b.Subscribers(bus.Channel("ORD-1")))

	b.Publish(bus.Channel("ORD-1"), []byte("update"))
	require.Eventually(t, func() bool {
		return c1.received() == 1 && c2.received() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestFanoutTeardownOnLastUnsubscribe(t *testing.T) {
	b := bus.New()
	defer b.Close()
	f := NewFanout(b, zap.NewNop().Sugar())

	c1, c2 := &fakeConn{}, &fakeConn{}
	f.Subscribe("ORD-1", c1)
	f.Subscribe("ORD-1", c2)

	f.Unsubscribe("ORD-1", c1)
	assert.Equal(t, 1, b.Subscribers(bus.Channel("ORD-1")), "subscription outlives first leaver")

	f.Unsubscribe("ORD-1", c2)
	assert.Equal(t, 0, b.Subscribers(bus.Channel("ORD-1")), "last leaver tears the subscription down")

	// Publishing into the torn-down channel is a no-op.
	b.Publish(bus.Channel("ORD-1"), []byte("late"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c1.received())
	assert.Equal(t, 0, c2.received())
}

func TestFanoutUnknownUnsubscribeIgnored(t *testing.T) {
	b := bus.New()
	defer b.Close()
	f := NewFanout(b, zap.NewNop().Sugar())

	f.Unsubscribe("ORD-nope", &fakeConn{})
}

func TestFanoutPrunesDeadConnections(t *testing.T) {
	b := bus.New()
	defer b.Close()
	f := NewFanout(b, zap.NewNop().Sugar())

	healthy := &fakeConn{}
	dead := &fakeConn{sendFail: true}
	f.Subscribe("ORD-1", healthy)
	f.Subscribe("ORD-1", dead)

	b.Publish(bus.Channel("ORD-1"), []byte("update"))

	require.Eventually(t, func() bool { return dead.isClosed() }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.Stats().TotalConnections == 1
	}, time.Second, 5*time.Millisecond)

	// Subsequent updates still reach the healthy connection.
	b.Publish(bus.Channel("ORD-1"), []byte("again"))
	require.Eventually(t, func() bool { return healthy.received() == 2 }, time.Second, 5*time.Millisecond)
}

func TestFanoutStats(t *testing.T) {
	b := bus.New()
	defer b.Close()
	f := NewFanout(b, zap.NewNop().Sugar())

	assert.Equal(t, FanoutStats{}, f.Stats())

	f.Subscribe("ORD-1", &fakeConn{})
	f.Subscribe("ORD-1", &fakeConn{})
	f.Subscribe("ORD-2", &fakeConn{})

	stats := f.Stats()
	assert.Equal(t, 2, stats.ActiveOrders)
	assert.Equal(t, 3, stats.TotalConnections)
}
