// Package chainkey implements the symmetric ratchet: the HMAC-SHA-256
// chain that advances a ChainKey one-way and derives single-use message
// keys from it (spec §4.C), grounded on ericlagergren-dr/djb.go's
// KDFck and the teacher's DeriveMessageKey/RatchetStep.
package chainkey

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/jaydenbeard/secure-ratchet/internal/secrand"
)

// Size is the fixed length of a chain key, message key, or root key.
const Size = 32

const (
	chainConstant   byte = 0x02
	messageConstant byte = 0x01
)

// ErrInvalidChainKey is returned for a chain key of the wrong length or
// that is all-zero.
var ErrInvalidChainKey = errors.New("chainkey: invalid chain key")

// Validate rejects a chain key whose length isn't Size, or that is
// all-zero.
func Validate(ck []byte) error {
	if len(ck) != Size {
		return ErrInvalidChainKey
	}
	var zero [Size]byte
	if secrand.ConstantTimeEquals(ck, zero[:]) {
		return ErrInvalidChainKey
	}
	return nil
}

// Advance derives the next chain key: HMAC-SHA-256(chainKey, 0x02). It is
// deterministic and one-way — the prior chain key cannot be recovered from
// the output.
func Advance(ck [Size]byte) [Size]byte {
	h := hmac.New(sha256.New, ck[:])
	h.Write([]byte{chainConstant})
	var next [Size]byte
	copy(next[:], h.Sum(nil))
	return next
}

// MessageKey derives the message key for message number n from a chain
// key: HMAC-SHA-256(chainKey, 0x01 || bigEndianU32(n)). For distinct n,
// the outputs are distinct with overwhelming probability.
func MessageKey(ck [Size]byte, n uint32) [Size]byte {
	h := hmac.New(sha256.New, ck[:])
	buf := make([]byte, 5)
	buf[0] = messageConstant
	binary.BigEndian.PutUint32(buf[1:], n)
	h.Write(buf)
	var mk [Size]byte
	copy(mk[:], h.Sum(nil))
	return mk
}

// Step advances ck and derives the message key for the message number that
// preceded the advance, matching the chain-then-key ordering used by
// Session.Seal/Open in ericlagergren-dr and by Engine.Encrypt/Decrypt in
// this engine's ratchet package: the caller derives MessageKey(ck, n) first, then replaces ck
// with Advance(ck).
func Step(ck [Size]byte, n uint32) (nextChainKey, messageKey [Size]byte) {
	return Advance(ck), MessageKey(ck, n)
}
