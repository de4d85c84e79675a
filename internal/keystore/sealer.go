package keystore

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/jaydenbeard/secure-ratchet/internal/primitives"
	"github.com/jaydenbeard/secure-ratchet/internal/secrand"
)

// argon2Time, argon2Memory, and argon2Threads follow the teacher's
// HighSecurityArgon2Params (internal/security/argon2.go): this key derives
// the at-rest encryption key for a user's own key-material blob, which
// warrants the stronger of the teacher's two presets.
const (
	argon2Time      = 3
	argon2MemoryKiB = 128 * 1024
	argon2Threads   = 4
	argon2SaltSize  = 16
)

// ErrSealedBlobTooShort is returned by Open when the input is shorter than
// the fixed salt+nonce+tag overhead.
var ErrSealedBlobTooShort = errors.New("keystore: sealed blob too short")

// BlobSealer encrypts key-material blobs at rest under a key derived from
// a passphrase via Argon2id, so OrdinaryStore never holds plaintext key
// material on disk — only ciphertext a holder of the passphrase can open.
type BlobSealer struct {
	passphrase string
}

// NewBlobSealer returns a sealer keyed by passphrase.
func NewBlobSealer(passphrase string) *BlobSealer {
	return &BlobSealer{passphrase: passphrase}
}

func (s *BlobSealer) deriveKey(salt []byte) [primitives.AEADKeySize]byte {
	raw := argon2.IDKey([]byte(s.passphrase), salt, argon2Time, argon2MemoryKiB, argon2Threads, primitives.AEADKeySize)
	var key [primitives.AEADKeySize]byte
	copy(key[:], raw)
	return key
}

// Seal encrypts plaintext, returning salt || nonce || ciphertext || tag.
func (s *BlobSealer) Seal(plaintext []byte) ([]byte, error) {
	salt, err := secrand.Bytes(argon2SaltSize)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate seal salt: %w", err)
	}
	nonce, err := secrand.Bytes(primitives.AEADNonceSize)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate seal nonce: %w", err)
	}
	var nonceArr [primitives.AEADNonceSize]byte
	copy(nonceArr[:], nonce)

	key := s.deriveKey(salt)
	ciphertext, tag, err := primitives.SealDetached(key, nonceArr, salt, plaintext)
	if err != nil {
		return nil, fmt.Errorf("keystore: seal blob: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext)+len(tag))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// Open decrypts a blob produced by Seal. Any mismatch in passphrase,
// salt, nonce, ciphertext, or tag yields primitives.ErrAuthFailure.
func (s *BlobSealer) Open(sealed []byte) ([]byte, error) {
	minLen := argon2SaltSize + primitives.AEADNonceSize + primitives.AEADTagSize
	if len(sealed) < minLen {
		return nil, ErrSealedBlobTooShort
	}

	salt := sealed[:argon2SaltSize]
	rest := sealed[argon2SaltSize:]
	nonce := rest[:primitives.AEADNonceSize]
	rest = rest[primitives.AEADNonceSize:]
	tagStart := len(rest) - primitives.AEADTagSize
	ciphertext, tag := rest[:tagStart], rest[tagStart:]

	var nonceArr [primitives.AEADNonceSize]byte
	copy(nonceArr[:], nonce)

	key := s.deriveKey(salt)
	return primitives.OpenDetached(key, nonceArr, salt, ciphertext, tag)
}
