package framer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIsBitExact(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_123)
	ad := AssociatedData{
		SenderID:           "alice",
		MessageNumber:      7,
		ChainLength:         3,
		Timestamp:           ts,
		EphemeralPublicKey: []byte{1, 2, 3, 4},
	}
	a := Build(ad)
	b := Build(ad)
	assert.Equal(t, a, b)

	expected := []byte{
		0, 0, 0, 5, 'a', 'l', 'i', 'c', 'e',
		0, 0, 0, 7,
		0, 0, 0, 3,
		0x00, 0x00, 0x01, 0x8B, 0xCF, 0xE5, 0x68, 0x7B,
		0, 0, 0, 4, 1, 2, 3, 4,
	}
	assert.Equal(t, expected, a)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ad := AssociatedData{
		SenderID:           "bob",
		MessageNumber:      0,
		ChainLength:        0,
		Timestamp:          time.UnixMilli(1_700_000_000_000),
		EphemeralPublicKey: []byte{9, 9, 9, 9},
	}
	raw := Build(ad)
	env := NewEnvelope(ModePFS, "conv-1", []byte("ciphertext"), []byte("nonce-12byt!"), []byte("0123456789abcdef"), ad, 0)

	assert.Equal(t, "PFS-conv-1", env.KeyID)
	assert.Equal(t, "bob", env.Metadata.SenderID)

	decoded, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), decoded.Ciphertext)
	assert.Equal(t, raw, decoded.AssociatedData)
	assert.Equal(t, ModePFS, decoded.Mode)
}

func TestTamperedMetadataChangesRebuiltAssociatedData(t *testing.T) {
	ad := AssociatedData{
		SenderID:           "bob",
		MessageNumber:      3,
		ChainLength:        1,
		Timestamp:          time.UnixMilli(1_700_000_000_000),
		EphemeralPublicKey: []byte{9, 9, 9, 9},
	}
	raw := Build(ad)
	env := NewEnvelope(ModePFS, "conv-1", []byte("ciphertext"), []byte("nonce-12byt!"), []byte("0123456789abcdef"), ad, 0)

	env.Metadata.MessageNumber = 99

	decoded, err := Decode(env)
	require.NoError(t, err)
	assert.NotEqual(t, raw, decoded.AssociatedData)
}
