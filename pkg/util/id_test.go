package util

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOrderID(t *testing.T) {
	a, b := NewOrderID(), NewOrderID()
	assert.True(t, strings.HasPrefix(a, "ORD-"))
	assert.NotEqual(t, a, b)
}

func TestNewTxHash(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	h := NewTxHash(rng)
	assert.Len(t, h, 88)
	for _, c := range h {
		assert.Contains(t, txHashAlphabet, string(c))
	}

	// Ambiguous base58 characters never appear.
	assert.NotContains(t, h, "0")
	assert.NotContains(t, h, "O")
	assert.NotContains(t, h, "I")
	assert.NotContains(t, h, "l")
}
