package bus

import (
	"sync"
)

// Bus is an in-process publish/subscribe primitive addressed by channel
// name. Publish is fire-and-forget: subscribers that cannot keep up have
// messages dropped rather than blocking the publisher.
//
// It fills the role a Redis pub/sub pair would in a multi-process
// deployment; the channel naming convention ("order:<id>") is kept so the
// substrate can be swapped without touching callers.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	closed bool
}

// Subscription is one subscriber's feed for a single channel. Messages
// arrive on C; Close detaches the subscription and closes C.
type Subscription struct {
	parent  *Bus
	channel string
	ch      chan []byte
	once    sync.Once
}

const subscriptionBuffer = 64

func New() *Bus {
	return &Bus{topics: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber on the channel.
func (b *Bus) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		channel: channel,
		ch:      make(chan []byte, subscriptionBuffer),
		parent:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	subs, ok := b.topics[channel]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[channel] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Publish delivers payload to every current subscriber of the channel.
// Publishing to a channel with no subscribers is a no-op.
func (b *Bus) Publish(channel string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.topics[channel] {
		select {
		case sub.ch <- payload:
		default:
			// Subscriber buffer full; drop for this subscriber.
		}
	}
}

// Subscribers reports the current subscriber count for a channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[channel])
}

// Close detaches all subscriptions and rejects future ones.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for channel, subs := range b.topics {
		for sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(b.topics, channel)
	}
}

// C is the subscriber's message stream. It is closed when the subscription
// or the bus is closed.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Close detaches the subscription from the bus and closes C.
func (s *Subscription) Close() {
	b := s.parent
	b.mu.Lock()
	if subs, ok := b.topics[s.channel]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.topics, s.channel)
		}
	}
	b.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}
