// Package legacyconv implements the conversation-PFS interop path: a
// degenerate, non-forward-secret symmetric scheme kept only so this engine
// can exchange messages with clients still running the source repo's
// pre-ratchet conversation key (spec §4.G, §9). It bypasses the Double
// Ratchet entirely — every message under a conversation reuses the same
// key — and is grounded on the teacher's static-key AEAD helpers in
// internal/security/crypto.go (EncryptAESGCM/DecryptAESGCM), adapted from
// AES-256-GCM to this engine's ChaCha20-Poly1305 primitive.
package legacyconv

import (
	"errors"
	"fmt"
	"time"

	"github.com/jaydenbeard/secure-ratchet/internal/framer"
	"github.com/jaydenbeard/secure-ratchet/internal/primitives"
	"github.com/jaydenbeard/secure-ratchet/internal/secrand"
)

// ErrInvalidKey is returned for a conversation key of the wrong length.
var ErrInvalidKey = errors.New("legacyconv: conversation key must be 32 bytes")

// Encrypt seals plaintext under the conversation's static symmetric key.
// senderID is bound into the associated data so a ciphertext from one
// participant cannot be replayed as if from another.
func Encrypt(conversationID, senderID string, key, plaintext []byte) (framer.Envelope, error) {
	aeadKey, err := toAEADKey(key)
	if err != nil {
		return framer.Envelope{}, err
	}

	nonce, err := secrand.Bytes(primitives.AEADNonceSize)
	if err != nil {
		return framer.Envelope{}, fmt.Errorf("legacyconv: generate nonce: %w", err)
	}
	var nonceArr [primitives.AEADNonceSize]byte
	copy(nonceArr[:], nonce)

	ad := framer.AssociatedData{
		SenderID:      senderID,
		MessageNumber: 0,
		ChainLength:   0,
		Timestamp:     time.Now(),
	}
	rawAD := framer.Build(ad)

	ciphertext, tag, err := primitives.SealDetached(aeadKey, nonceArr, rawAD, plaintext)
	if err != nil {
		return framer.Envelope{}, fmt.Errorf("legacyconv: seal: %w", err)
	}

	return framer.NewEnvelope(framer.ModeConversationPFS, conversationID, ciphertext, nonce, tag, ad, 0), nil
}

// Decrypt opens an envelope produced by Encrypt. Any mismatch in
// conversation key, ciphertext, tag, nonce, or sender ID yields
// primitives.ErrAuthFailure.
func Decrypt(key []byte, env framer.Envelope) ([]byte, error) {
	aeadKey, err := toAEADKey(key)
	if err != nil {
		return nil, err
	}

	decoded, err := framer.Decode(env)
	if err != nil {
		return nil, fmt.Errorf("legacyconv: decode envelope: %w", err)
	}
	var nonceArr [primitives.AEADNonceSize]byte
	copy(nonceArr[:], decoded.Nonce)

	plaintext, err := primitives.OpenDetached(aeadKey, nonceArr, decoded.AssociatedData, decoded.Ciphertext, decoded.Tag)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func toAEADKey(key []byte) ([primitives.AEADKeySize]byte, error) {
	var out [primitives.AEADKeySize]byte
	if len(key) != primitives.AEADKeySize {
		return out, ErrInvalidKey
	}
	copy(out[:], key)
	return out, nil
}
