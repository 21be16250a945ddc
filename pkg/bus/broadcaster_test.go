package bus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solswap/engine/pkg/order"
)

func TestChannelNaming(t *testing.T) {
	assert.Equal(t, "order:ORD-42", Channel("ORD-42"))
}

func TestBroadcasterPublishesToOrderChannel(t *testing.T) {
	b := New()
	defer b.Close()
	bc := NewBroadcaster(b, zap.NewNop().Sugar())

	sub := b.Subscribe(Channel("ORD-1"))
	other := b.Subscribe(Channel("ORD-2"))

	bc.Publish(order.NewStatusUpdate("ORD-1", order.StatusRouting,
		"Comparing prices from Raydium and Meteora", nil))

	payload := recv(t, sub)
	var update order.StatusUpdate
	require.NoError(t, json.Unmarshal(payload, &update))
	assert.Equal(t, "ORD-1", update.OrderID)
	assert.Equal(t, order.StatusRouting, update.Status)

	assert.Empty(t, other.ch)
}
