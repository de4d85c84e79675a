package orchestrator

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/jaydenbeard/secure-ratchet/internal/primitives"
	"github.com/jaydenbeard/secure-ratchet/internal/secrand"
)

// ErrKeyExchangeModeMismatch is returned when performKeyExchange is called
// against KeyMaterial that isn't PQCMaterial.
var ErrKeyExchangeModeMismatch = errors.New("orchestrator: hybrid key exchange requires PQC key material")

// ErrSignatureVerificationFailed is returned when the remote party's
// Dilithium signature over its Kyber ciphertext does not verify.
var ErrSignatureVerificationFailed = errors.New("orchestrator: remote key exchange signature did not verify")

// KeyExchangeResult is the outcome of a hybrid classical+post-quantum key
// exchange (spec §4.G): the classical X25519 DH output, the post-quantum
// Kyber-768 encapsulation, and the HKDF-combined final shared secret, plus
// the Dilithium-3 signature binding the exchange to the initiator's
// identity.
type KeyExchangeResult struct {
	ClassicalShared  []byte
	KyberCiphertext  []byte
	PostQuantumShared []byte
	Signature         []byte
	FinalSharedSecret []byte
}

// RemoteCombinedPublicKey is the bundle a remote party publishes for a
// hybrid exchange: its X25519 public key and Kyber-768 public key, both
// base64-encoded the same way KeyMaterial is persisted.
type RemoteCombinedPublicKey struct {
	X25519PublicKey string
	KyberPublicKey  string
}

// performKeyExchange runs the PQC mode's hybrid handshake (spec §4.G): an
// X25519 DH against the remote's classical public key, a Kyber-768
// encapsulation against the remote's post-quantum public key, a Dilithium-3
// signature over the resulting ciphertext (binding it to the local
// identity), and an HKDF combination of both shared secrets into one.
//
// The local side must already hold PQCMaterial. Since PQCMaterial only
// carries a Kyber KEM pair and a Dilithium signing pair (no X25519 pair of
// its own — spec §4.G "PQC" names only those two), the classical leg of the
// hybrid exchange uses a freshly generated ephemeral X25519 pair; its public
// half is returned in localEphemeralPublicKey for the caller to publish
// alongside the signature.
func performKeyExchange(local PQCMaterial, remote RemoteCombinedPublicKey) (KeyExchangeResult, []byte, error) {
	ephemeral, err := primitives.GenerateX25519KeyPair(rand.Reader)
	if err != nil {
		return KeyExchangeResult{}, nil, fmt.Errorf("orchestrator: generate ephemeral x25519 pair: %w", err)
	}

	remoteClassicalPub, err := secrand.DecodeB64(remote.X25519PublicKey)
	if err != nil {
		return KeyExchangeResult{}, nil, fmt.Errorf("orchestrator: decode remote x25519 public key: %w", err)
	}
	var remotePubArr [primitives.X25519KeySize]byte
	copy(remotePubArr[:], remoteClassicalPub)

	classicalShared, err := primitives.ComputeSharedSecret(ephemeral.Private, remotePubArr)
	if err != nil {
		return KeyExchangeResult{}, nil, fmt.Errorf("orchestrator: classical dh: %w", err)
	}

	remoteKyberPub, err := secrand.DecodeB64(remote.KyberPublicKey)
	if err != nil {
		return KeyExchangeResult{}, nil, fmt.Errorf("orchestrator: decode remote kyber public key: %w", err)
	}
	kyberCiphertext, postQuantumShared, err := primitives.KyberEncapsulate(remoteKyberPub)
	if err != nil {
		return KeyExchangeResult{}, nil, fmt.Errorf("orchestrator: kyber encapsulate: %w", err)
	}

	localDilithiumPriv, err := secrand.DecodeB64(local.DilithiumPrivateKey)
	if err != nil {
		return KeyExchangeResult{}, nil, fmt.Errorf("orchestrator: decode local dilithium private key: %w", err)
	}
	signature, err := primitives.DilithiumSign(localDilithiumPriv, kyberCiphertext)
	if err != nil {
		return KeyExchangeResult{}, nil, fmt.Errorf("orchestrator: sign kyber ciphertext: %w", err)
	}

	finalSecret, err := primitives.DeriveHybridSharedSecret(classicalShared, postQuantumShared)
	if err != nil {
		return KeyExchangeResult{}, nil, fmt.Errorf("orchestrator: derive hybrid shared secret: %w", err)
	}

	return KeyExchangeResult{
		ClassicalShared:   classicalShared,
		KyberCiphertext:   kyberCiphertext,
		PostQuantumShared: postQuantumShared,
		Signature:         signature,
		FinalSharedSecret: finalSecret,
	}, ephemeral.Public[:], nil
}

// PQCHandshakeBundle is what a responder publishes so an initiator can call
// PerformPQCHandshake against it, plus the ephemeral private key the
// responder must keep to later call CompletePQCHandshake.
type PQCHandshakeBundle struct {
	Public  RemoteCombinedPublicKey
	private [primitives.X25519KeySize]byte
}

// PrivateKey exposes the ephemeral X25519 private key generated for this
// bundle, for passing to CompletePQCHandshake.
func (b PQCHandshakeBundle) PrivateKey() [primitives.X25519KeySize]byte {
	return b.private
}

// NewPQCHandshakeBundle generates a fresh ephemeral X25519 pair for the
// responder side of a hybrid handshake and pairs it with local's Kyber-768
// public key, producing the bundle to publish to an initiator.
func NewPQCHandshakeBundle(local PQCMaterial) (PQCHandshakeBundle, error) {
	ephemeral, err := primitives.GenerateX25519KeyPair(rand.Reader)
	if err != nil {
		return PQCHandshakeBundle{}, fmt.Errorf("orchestrator: generate responder ephemeral x25519 pair: %w", err)
	}
	return PQCHandshakeBundle{
		Public: RemoteCombinedPublicKey{
			X25519PublicKey: secrand.EncodeB64(ephemeral.Public[:]),
			KyberPublicKey:  local.KyberPublicKey,
		},
		private: ephemeral.Private,
	}, nil
}

// completeKeyExchange is the responder's half of the handshake: given the
// initiator's Kyber ciphertext, its Dilithium signature over that
// ciphertext, and the initiator's classical ephemeral public key, recover
// the same final shared secret performKeyExchange produced.
func completeKeyExchange(local PQCMaterial, initiatorDilithiumPublicKey string, initiatorEphemeralX25519Public, kyberCiphertext, signature []byte, localClassicalPriv [primitives.X25519KeySize]byte) ([]byte, error) {
	remoteSignPub, err := secrand.DecodeB64(initiatorDilithiumPublicKey)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode initiator dilithium public key: %w", err)
	}
	ok, err := primitives.DilithiumVerify(remoteSignPub, kyberCiphertext, signature)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: verify initiator signature: %w", err)
	}
	if !ok {
		return nil, ErrSignatureVerificationFailed
	}

	var initiatorPubArr [primitives.X25519KeySize]byte
	copy(initiatorPubArr[:], initiatorEphemeralX25519Public)
	classicalShared, err := primitives.ComputeSharedSecret(localClassicalPriv, initiatorPubArr)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: classical dh: %w", err)
	}

	localKyberPriv, err := secrand.DecodeB64(local.KyberPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode local kyber private key: %w", err)
	}
	postQuantumShared, err := primitives.KyberDecapsulate(localKyberPriv, kyberCiphertext)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: kyber decapsulate: %w", err)
	}

	return primitives.DeriveHybridSharedSecret(classicalShared, postQuantumShared)
}
