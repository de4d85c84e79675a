package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobSealerRoundTrip(t *testing.T) {
	sealer := NewBlobSealer("correct horse battery staple 12345")
	plaintext := []byte(`{"tag":"x25519-pfs","publicKey":"abc"}`)

	sealed, err := sealer.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestBlobSealerWrongPassphraseFails(t *testing.T) {
	sealed, err := NewBlobSealer("passphrase-one-correct-horse").Seal([]byte("secret payload"))
	require.NoError(t, err)

	_, err = NewBlobSealer("passphrase-two-wrong-battery").Open(sealed)
	assert.Error(t, err)
}

func TestBlobSealerRejectsTruncatedInput(t *testing.T) {
	_, err := NewBlobSealer("any passphrase here").Open([]byte("too short"))
	assert.ErrorIs(t, err, ErrSealedBlobTooShort)
}
