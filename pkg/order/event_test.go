package order

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatusUpdatePayload(t *testing.T) {
	u := NewStatusUpdate("ORD-1", StatusBuilding, "Building transaction for raydium", BuildingData{
		SelectedVenue:   VenueRaydium,
		EstimatedOutput: 12.5,
		Fee:             0.003,
	})

	assert.Equal(t, "ORD-1", u.OrderID)
	assert.Equal(t, StatusBuilding, u.Status)
	assert.False(t, u.Timestamp.IsZero())

	var data BuildingData
	require.NoError(t, json.Unmarshal(u.Data, &data))
	assert.Equal(t, VenueRaydium, data.SelectedVenue)
	assert.Equal(t, 12.5, data.EstimatedOutput)
}

func TestNewStatusUpdateNilData(t *testing.T) {
	u := NewStatusUpdate("ORD-2", StatusRouting, "Comparing prices from Raydium and Meteora", nil)
	assert.Nil(t, u.Data)

	raw, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"data"`)
}

func TestStatusUpdateWireFormat(t *testing.T) {
	u := NewStatusUpdate("ORD-3", StatusConfirmed, "Transaction confirmed successfully", ConfirmedData{
		TxHash:        "abc",
		ExecutedPrice: 0.01,
		AmountOut:     9.97,
		Venue:         VenueMeteora,
	})

	raw, err := json.Marshal(u)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "ORD-3", decoded["orderId"])
	assert.Equal(t, "confirmed", decoded["status"])

	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "meteora", data["dex"])
	assert.Equal(t, "abc", data["txHash"])
}
