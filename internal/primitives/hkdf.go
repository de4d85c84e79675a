package primitives

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DerivedKeys is the (root key, chain key) pair produced by a root-chain
// KDF step (spec §4.B DeriveKeys, §4.C root KDF).
type DerivedKeys struct {
	RootKey  [32]byte
	ChainKey [32]byte
}

// DeriveRootAndChainKey runs HKDF-SHA-256 with the given salt, ikm=input key
// material, and a context-specific info string, producing a fresh (root
// key, chain key) pair. Used both for session initialization (no salt,
// context = conversationId||"-init") and for each DH-ratchet step (salt =
// prior root key, context = "RatchetRoot"), per spec §4.C.
func DeriveRootAndChainKey(salt, ikm []byte, info string) (DerivedKeys, error) {
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	var out DerivedKeys
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r, buf); err != nil {
		return DerivedKeys{}, fmt.Errorf("primitives: hkdf derive: %w", err)
	}
	copy(out.RootKey[:], buf[:32])
	copy(out.ChainKey[:], buf[32:])
	return out, nil
}

// DeriveHybridSharedSecret computes the final shared secret for the PQC
// hybrid key exchange: HKDF-SHA-256 over classical||postQuantum shared
// secrets, info="HybridKex" (spec §4.G).
func DeriveHybridSharedSecret(classical, postQuantum []byte) ([]byte, error) {
	ikm := make([]byte, 0, len(classical)+len(postQuantum))
	ikm = append(ikm, classical...)
	ikm = append(ikm, postQuantum...)

	r := hkdf.New(sha256.New, ikm, nil, []byte("HybridKex"))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("primitives: hybrid hkdf derive: %w", err)
	}
	return out, nil
}
