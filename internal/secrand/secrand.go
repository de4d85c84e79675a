// Package secrand provides the engine's random, encoding, and zeroization
// primitives. The ratchet and orchestrator packages also read crypto/rand
// directly when generating keys.
package secrand

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
	"runtime"
)

// ErrInvalidLength is returned by Bytes for a negative length.
var ErrInvalidLength = errors.New("secrand: length must be non-negative")

// Bytes returns n cryptographically secure random bytes.
//
// n must be non-negative; n == 0 returns a non-nil empty slice.
func Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrInvalidLength
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ConstantTimeEquals reports whether a and b hold the same bytes, in time
// independent of their content. Unequal lengths return false without
// comparing content.
func ConstantTimeEquals(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Zeroize overwrites p in place. It is a best-effort hint: on platforms
// without guaranteed memory control (GC'd, swapped, copied by the
// runtime) it cannot guarantee the bytes are gone, but it defeats simple
// dead-store elimination so the overwrite isn't optimized away.
//
//go:noinline
func Zeroize(p []byte) {
	for i := range p {
		p[i] = 0
	}
	runtime.KeepAlive(p)
}

// EncodeB64 encodes p using standard base64, the encoding used at every
// wire boundary in this engine (§6 envelope fields).
func EncodeB64(p []byte) string {
	return base64.StdEncoding.EncodeToString(p)
}

// DecodeB64 decodes standard base64 produced by EncodeB64.
func DecodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
