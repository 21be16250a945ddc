package bus

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/solswap/engine/pkg/order"
)

// Channel derives the bus channel name for an order's status stream.
func Channel(orderID string) string { return "order:" + orderID }

// Broadcaster publishes status updates on the per-order channels. Delivery
// is best effort: a failure to encode or publish is logged and swallowed,
// never propagated into the state transition that triggered it.
type Broadcaster struct {
	bus *Bus
	log *zap.SugaredLogger
}

func NewBroadcaster(b *Bus, log *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{bus: b, log: log}
}

// Publish fans the update out to the order's channel.
func (b *Broadcaster) Publish(update order.StatusUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		b.log.Errorw("status_broadcast_marshal_failed", "order_id", update.OrderID, "err", err)
		return
	}
	b.bus.Publish(Channel(update.OrderID), payload)
	b.log.Debugw("status_broadcast", "order_id", update.OrderID, "status", update.Status)
}
