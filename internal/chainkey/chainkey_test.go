package chainkey

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randChainKey(t *testing.T) [Size]byte {
	t.Helper()
	var ck [Size]byte
	_, err := rand.Read(ck[:])
	require.NoError(t, err)
	return ck
}

func TestAdvanceIsDeterministic(t *testing.T) {
	ck := randChainKey(t)
	assert.Equal(t, Advance(ck), Advance(ck))
}

func TestMessageKeysDifferByMessageNumber(t *testing.T) {
	ck := randChainKey(t)
	mk0 := MessageKey(ck, 0)
	mk1 := MessageKey(ck, 1)
	assert.NotEqual(t, mk0, mk1)
}

func TestAdvanceOneWayness(t *testing.T) {
	// Statistical one-wayness check (spec P4): advancing a chain key k
	// steps must not let the former chain key predict the resulting
	// message keys. We can't prove this algebraically in a unit test,
	// but we can assert the derived values are distinct across steps.
	ck := randChainKey(t)
	seen := map[[Size]byte]bool{}
	for i := 0; i < 50; i++ {
		next, mk := Step(ck, uint32(i))
		assert.False(t, seen[mk], "message key repeated at step %d", i)
		seen[mk] = true
		assert.NotEqual(t, ck, next)
		ck = next
	}
}

func TestValidateRejectsWrongLengthAndZero(t *testing.T) {
	assert.ErrorIs(t, Validate(make([]byte, 31)), ErrInvalidChainKey)
	assert.ErrorIs(t, Validate(make([]byte, 32)), ErrInvalidChainKey)

	ck := randChainKey(t)
	assert.NoError(t, Validate(ck[:]))
}
