package util

import (
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// base58-style alphabet (no 0, O, I, l) matching Solana signature encoding.
const txHashAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const txHashLen = 88

// NewOrderID returns an externally visible order identifier.
func NewOrderID() string {
	return "ORD-" + uuid.NewString()
}

// NewTxHash generates an opaque execution reference resembling a Solana
// transaction signature.
func NewTxHash(rng *rand.Rand) string {
	var b strings.Builder
	b.Grow(txHashLen)
	for i := 0; i < txHashLen; i++ {
		b.WriteByte(txHashAlphabet[rng.Intn(len(txHashAlphabet))])
	}
	return b.String()
}
