package primitives

import (
	"errors"
	"fmt"

	"github.com/cloudflare/circl/kem/kyber/kyber768"
)

// Kyber-768 wire sizes, taken from the CIRCL package rather than
// hardcoded — grounded on the same kyber768/kyber1024 CIRCL usage as the
// pack's nochat.io PQC module (other_examples) and the kamune/Qsafe
// manifests that depend on github.com/cloudflare/circl.
const (
	KyberPublicKeySize  = kyber768.PublicKeySize
	KyberPrivateKeySize = kyber768.PrivateKeySize
	KyberCiphertextSize = kyber768.CiphertextSize
	KyberSharedKeySize  = kyber768.SharedKeySize
)

// ErrInvalidKyberKey is returned for wrong-length or all-zero Kyber keys.
var ErrInvalidKyberKey = errors.New("primitives: invalid kyber-768 key")

// KyberKeyPair is a Kyber-768 KEM key pair.
type KyberKeyPair struct {
	Public  []byte
	Private []byte
}

// GenerateKyberKeyPair generates a new Kyber-768 key pair.
func GenerateKyberKeyPair(randSource RandReader) (*KyberKeyPair, error) {
	pub, priv, err := kyber768.GenerateKeyPair(randSource)
	if err != nil {
		return nil, fmt.Errorf("primitives: generate kyber key pair: %w", err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("primitives: marshal kyber public key: %w", err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("primitives: marshal kyber private key: %w", err)
	}
	return &KyberKeyPair{Public: pubBytes, Private: privBytes}, nil
}

// KyberEncapsulate encapsulates a fresh shared secret to the given Kyber-768
// public key, returning the ciphertext to send and the shared secret to
// keep.
func KyberEncapsulate(pubBytes []byte) (ciphertext, sharedSecret []byte, err error) {
	if len(pubBytes) != KyberPublicKeySize || allZero(pubBytes) {
		return nil, nil, ErrInvalidKyberKey
	}
	pub, err := kyber768.Scheme().UnmarshalBinaryPublicKey(pubBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("primitives: unmarshal kyber public key: %w", err)
	}
	ct, ss, err := kyber768.Scheme().Encapsulate(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("primitives: kyber encapsulate: %w", err)
	}
	return ct, ss, nil
}

// KyberDecapsulate recovers the shared secret from a ciphertext using the
// holder's private key.
func KyberDecapsulate(privBytes, ciphertext []byte) ([]byte, error) {
	if len(privBytes) != KyberPrivateKeySize {
		return nil, ErrInvalidKyberKey
	}
	if len(ciphertext) != KyberCiphertextSize {
		return nil, fmt.Errorf("primitives: invalid kyber ciphertext length %d", len(ciphertext))
	}
	priv, err := kyber768.Scheme().UnmarshalBinaryPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("primitives: unmarshal kyber private key: %w", err)
	}
	ss, err := kyber768.Scheme().Decapsulate(priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("primitives: kyber decapsulate: %w", err)
	}
	return ss, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
