package primitives

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestX25519RoundTrip(t *testing.T) {
	alice, err := GenerateX25519KeyPair(rand.Reader)
	require.NoError(t, err)
	bob, err := GenerateX25519KeyPair(rand.Reader)
	require.NoError(t, err)

	s1, err := ComputeSharedSecret(alice.Private, bob.Public)
	require.NoError(t, err)
	s2, err := ComputeSharedSecret(bob.Private, alice.Public)
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
}

func TestValidateX25519PublicKeyRejectsWeakKeys(t *testing.T) {
	assert.ErrorIs(t, ValidateX25519PublicKey(make([]byte, 32)), ErrWeakPublicKey)

	allFF := make([]byte, 32)
	for i := range allFF {
		allFF[i] = 0xFF
	}
	assert.ErrorIs(t, ValidateX25519PublicKey(allFF), ErrWeakPublicKey)

	assert.ErrorIs(t, ValidateX25519PublicKey(make([]byte, 31)), ErrWeakPublicKey)
}

func TestAEADRoundTrip(t *testing.T) {
	var key [AEADKeySize]byte
	var nonce [AEADNonceSize]byte
	_, _ = rand.Read(key[:])
	_, _ = rand.Read(nonce[:])

	aad := []byte("associated-data")
	plaintext := []byte("a secret message")

	ct, tag, err := SealDetached(key, nonce, aad, plaintext)
	require.NoError(t, err)
	assert.Len(t, tag, AEADTagSize)

	got, err := OpenDetached(key, nonce, aad, ct, tag)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestAEADTamperDetection(t *testing.T) {
	var key [AEADKeySize]byte
	var nonce [AEADNonceSize]byte
	_, _ = rand.Read(key[:])
	_, _ = rand.Read(nonce[:])
	aad := []byte("aad")
	ct, tag, err := SealDetached(key, nonce, aad, []byte("message"))
	require.NoError(t, err)

	tamperedCT := append([]byte(nil), ct...)
	tamperedCT[0] ^= 0xFF
	_, err = OpenDetached(key, nonce, aad, tamperedCT, tag)
	assert.ErrorIs(t, err, ErrAuthFailure)

	tamperedTag := append([]byte(nil), tag...)
	tamperedTag[0] ^= 0xFF
	_, err = OpenDetached(key, nonce, aad, ct, tamperedTag)
	assert.ErrorIs(t, err, ErrAuthFailure)

	tamperedNonce := nonce
	tamperedNonce[0] ^= 0xFF
	_, err = OpenDetached(key, tamperedNonce, aad, ct, tag)
	assert.ErrorIs(t, err, ErrAuthFailure)

	tamperedAAD := append([]byte(nil), aad...)
	tamperedAAD[0] ^= 0xFF
	_, err = OpenDetached(key, nonce, tamperedAAD, ct, tag)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestKyberEncapsulateDecapsulate(t *testing.T) {
	kp, err := GenerateKyberKeyPair(rand.Reader)
	require.NoError(t, err)
	assert.Len(t, kp.Public, KyberPublicKeySize)
	assert.Len(t, kp.Private, KyberPrivateKeySize)

	ct, ss1, err := KyberEncapsulate(kp.Public)
	require.NoError(t, err)
	assert.Len(t, ct, KyberCiphertextSize)
	assert.Len(t, ss1, KyberSharedKeySize)

	ss2, err := KyberDecapsulate(kp.Private, ct)
	require.NoError(t, err)
	assert.Equal(t, ss1, ss2)
}

func TestKyberRejectsZeroPublicKey(t *testing.T) {
	_, _, err := KyberEncapsulate(make([]byte, KyberPublicKeySize))
	assert.ErrorIs(t, err, ErrInvalidKyberKey)
}

func TestDilithiumSignVerify(t *testing.T) {
	kp, err := GenerateDilithiumKeyPair(rand.Reader)
	require.NoError(t, err)

	sig, err := DilithiumSign(kp.Private, []byte("message"))
	require.NoError(t, err)
	assert.Len(t, sig, DilithiumSignatureSize)

	ok, err := DilithiumVerify(kp.Public, []byte("message"), sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = DilithiumVerify(kp.Public, []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDilithiumEmptyMessageValid(t *testing.T) {
	kp, err := GenerateDilithiumKeyPair(rand.Reader)
	require.NoError(t, err)

	sig, err := DilithiumSign(kp.Private, []byte{})
	require.NoError(t, err)

	ok, err := DilithiumVerify(kp.Public, []byte{}, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}
