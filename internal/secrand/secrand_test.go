package secrand

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesLength(t *testing.T) {
	b, err := Bytes(32)
	require.NoError(t, err)
	assert.Len(t, b, 32)

	empty, err := Bytes(0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Len(t, empty, 0)

	_, err = Bytes(-1)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestBytesAreNotConstant(t *testing.T) {
	a, err := Bytes(32)
	require.NoError(t, err)
	b, err := Bytes(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestConstantTimeEquals(t *testing.T) {
	a := []byte("exactly-equal-bytes")
	b := append([]byte(nil), a...)
	assert.True(t, ConstantTimeEquals(a, b))

	c := []byte("different-bytes-here")
	assert.False(t, ConstantTimeEquals(a, c))

	assert.False(t, ConstantTimeEquals(a, []byte("short")))
}

// TestConstantTimeEqualsTimingSanity is a coarse sanity check (spec P8),
// not a rigorous side-channel proof: equal and unequal comparisons of the
// same length should take comparable time.
func TestConstantTimeEqualsTimingSanity(t *testing.T) {
	a := make([]byte, 4096)
	equal := append([]byte(nil), a...)
	unequal := append([]byte(nil), a...)
	unequal[0] ^= 0xFF

	const iterations = 2000
	start := time.Now()
	for i := 0; i < iterations; i++ {
		ConstantTimeEquals(a, equal)
	}
	equalElapsed := time.Since(start)

	start = time.Now()
	for i := 0; i < iterations; i++ {
		ConstantTimeEquals(a, unequal)
	}
	unequalElapsed := time.Since(start)

	ratio := float64(equalElapsed) / float64(unequalElapsed)
	if ratio < 0.1 || ratio > 10 {
		t.Fatalf("timing variance outside sanity bound: equal=%v unequal=%v ratio=%v", equalElapsed, unequalElapsed, ratio)
	}
}

func TestZeroize(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	Zeroize(b)
	for _, v := range b {
		assert.Equal(t, byte(0), v)
	}
}

func TestB64RoundTrip(t *testing.T) {
	orig, err := Bytes(48)
	require.NoError(t, err)

	encoded := EncodeB64(orig)
	decoded, err := DecodeB64(encoded)
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
}
