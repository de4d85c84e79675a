package primitives

import (
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Dilithium-3 wire sizes, taken from the CIRCL mode3 package — the same
// package the nochat.io PQC module (other_examples) uses for ML-DSA
// signatures.
const (
	DilithiumPublicKeySize  = mode3.PublicKeySize
	DilithiumPrivateKeySize = mode3.PrivateKeySize
	DilithiumSignatureSize  = mode3.SignatureSize
)

// ErrInvalidDilithiumKey is returned for wrong-length keys or signatures.
var ErrInvalidDilithiumKey = errors.New("primitives: invalid dilithium-3 key or signature")

// DilithiumKeyPair is a Dilithium-3 signing key pair.
type DilithiumKeyPair struct {
	Public  []byte
	Private []byte
}

// GenerateDilithiumKeyPair generates a new Dilithium-3 key pair.
func GenerateDilithiumKeyPair(randSource RandReader) (*DilithiumKeyPair, error) {
	pub, priv, err := mode3.GenerateKey(randSource)
	if err != nil {
		return nil, fmt.Errorf("primitives: generate dilithium key pair: %w", err)
	}
	return &DilithiumKeyPair{
		Public:  pub.Bytes(),
		Private: priv.Bytes(),
	}, nil
}

// DilithiumSign signs message with a Dilithium-3 private key.
func DilithiumSign(privBytes, message []byte) ([]byte, error) {
	if len(privBytes) != DilithiumPrivateKeySize {
		return nil, ErrInvalidDilithiumKey
	}
	var priv mode3.PrivateKey
	var raw [mode3.PrivateKeySize]byte
	copy(raw[:], privBytes)
	priv.Unpack(&raw)

	sig := make([]byte, DilithiumSignatureSize)
	mode3.SignTo(&priv, message, sig)
	return sig, nil
}

// DilithiumVerify verifies a Dilithium-3 signature. Empty messages are
// valid inputs.
func DilithiumVerify(pubBytes, message, sig []byte) (bool, error) {
	if len(pubBytes) != DilithiumPublicKeySize {
		return false, ErrInvalidDilithiumKey
	}
	if len(sig) != DilithiumSignatureSize {
		return false, ErrInvalidDilithiumKey
	}
	var pub mode3.PublicKey
	var raw [mode3.PublicKeySize]byte
	copy(raw[:], pubBytes)
	pub.Unpack(&raw)

	return mode3.Verify(&pub, message, sig), nil
}
