package primitives

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// X25519KeySize is the size in bytes of an X25519 private or public key.
const X25519KeySize = 32

// ErrWeakPublicKey is returned by ValidateX25519PublicKey for keys that are
// all-zero, all-0xFF, or the wrong length — low-order points an attacker
// could use to force a predictable shared secret.
var ErrWeakPublicKey = errors.New("primitives: weak or invalid x25519 public key")

// X25519KeyPair is an ephemeral or long-term Curve25519 key pair.
type X25519KeyPair struct {
	Private [X25519KeySize]byte
	Public  [X25519KeySize]byte
}

// GenerateX25519KeyPair generates a new clamped X25519 key pair, following
// the clamping convention shared by ericlagergren-dr/djb.go and the
// teacher's internal/security/signal.go GenerateKeyPair.
func GenerateX25519KeyPair(randSource RandReader) (*X25519KeyPair, error) {
	var priv [X25519KeySize]byte
	if _, err := readFull(randSource, priv[:]); err != nil {
		return nil, fmt.Errorf("primitives: generate x25519 key pair: %w", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("primitives: derive x25519 public key: %w", err)
	}

	kp := &X25519KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// ComputeSharedSecret performs an X25519 Diffie-Hellman exchange.
func ComputeSharedSecret(priv, pub [X25519KeySize]byte) ([]byte, error) {
	if err := ValidateX25519PublicKey(pub[:]); err != nil {
		return nil, err
	}
	secret, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, fmt.Errorf("primitives: x25519 dh: %w", err)
	}
	return secret, nil
}

// ValidateX25519PublicKey rejects all-zero, all-0xFF, and wrong-length
// public keys. It does not attempt a full small-subgroup check — X25519's
// DH output is itself checked implicitly by rejecting the degenerate
// all-zero/all-0xFF points, which is the practical mitigation curve25519.X25519
// callers are expected to apply.
func ValidateX25519PublicKey(pub []byte) error {
	if len(pub) != X25519KeySize {
		return fmt.Errorf("%w: length %d", ErrWeakPublicKey, len(pub))
	}
	allZero, allFF := true, true
	for _, b := range pub {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xFF {
			allFF = false
		}
	}
	if allZero || allFF {
		return ErrWeakPublicKey
	}
	return nil
}
