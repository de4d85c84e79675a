package primitives

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// AEADKeySize is the ChaCha20-Poly1305 key size.
	AEADKeySize = chacha20poly1305.KeySize
	// AEADNonceSize is the ChaCha20-Poly1305-IETF nonce size.
	AEADNonceSize = chacha20poly1305.NonceSize
	// AEADTagSize is the Poly1305 authentication tag size.
	AEADTagSize = 16
)

// ErrAuthFailure is returned when AEAD decryption fails to authenticate.
var ErrAuthFailure = errors.New("primitives: aead authentication failed")

// SealDetached encrypts plaintext under key and nonce, authenticating aad,
// and returns the ciphertext and tag separately — the engine's envelope
// (spec §6) transmits them as distinct base64 fields rather than one
// tag-appended blob.
func SealDetached(key [AEADKeySize]byte, nonce [AEADNonceSize]byte, aad, plaintext []byte) (ciphertext, tag []byte, err error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("primitives: new aead: %w", err)
	}
	sealed := aead.Seal(nil, nonce[:], plaintext, aad)
	ctLen := len(sealed) - AEADTagSize
	return sealed[:ctLen], sealed[ctLen:], nil
}

// OpenDetached decrypts ciphertext+tag under key and nonce, authenticating
// aad. Any mismatch in ciphertext, tag, nonce, or aad yields ErrAuthFailure.
func OpenDetached(key [AEADKeySize]byte, nonce [AEADNonceSize]byte, aad, ciphertext, tag []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("primitives: new aead: %w", err)
	}
	if len(tag) != AEADTagSize {
		return nil, ErrAuthFailure
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := aead.Open(nil, nonce[:], sealed, aad)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}
