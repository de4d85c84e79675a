// Package negotiation implements stateless algorithm-capability negotiation
// between two clients (spec §4.F), deciding protocol version, key exchange,
// signature, and encryption choices from each side's declared capabilities.
package negotiation

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jaydenbeard/secure-ratchet/internal/enginemetrics"
)

var (
	ErrNoCompatibleProtocol          = errors.New("negotiation: no compatible protocol version")
	ErrQuantumResistanceUnsatisfiable = errors.New("negotiation: quantum resistance required but unsatisfiable")
	ErrNoCompatibleEncryption        = errors.New("negotiation: no compatible encryption algorithm")
	ErrSecurityLevelUnsatisfiable    = errors.New("negotiation: chosen key exchange cannot meet required security level")
	ErrPFSUnsatisfiable              = errors.New("negotiation: perfect forward secrecy required but not negotiable")
)

// ProtocolVersions lists the accepted protocol versions, newest first.
var ProtocolVersions = []string{"2.0.0", "1.1.0", "1.0.0"}

// KeyExchange identifies a supported key-exchange algorithm.
type KeyExchange string

const (
	KeyExchangeHybrid  KeyExchange = "hybrid"
	KeyExchangeKyber768 KeyExchange = "kyber768"
	KeyExchangeX25519  KeyExchange = "x25519"
)

// keyExchangePreference orders key exchanges by preference, most preferred
// first (spec §4.F rule 2).
var keyExchangePreference = []KeyExchange{KeyExchangeHybrid, KeyExchangeKyber768, KeyExchangeX25519}

// securityLevelForKEX maps a chosen key exchange to the security level it
// can provide (spec §4.F rule 5).
var securityLevelForKEX = map[KeyExchange]int{
	KeyExchangeHybrid:   3,
	KeyExchangeKyber768: 3,
	KeyExchangeX25519:   1,
}

// Signature identifies a supported signature algorithm.
type Signature string

const (
	SignatureDilithium3 Signature = "dilithium3"
	SignatureNone       Signature = "none"
)

// Encryption identifies a supported AEAD algorithm.
type Encryption string

const EncryptionChaCha20Poly1305 Encryption = "chacha20poly1305"

// Features summarizes the negotiated session's security properties.
type Features struct {
	PerfectForwardSecrecy bool
	DoubleRatchet         bool
	PostQuantum           bool
}

// Capabilities describes what one party supports (spec §3 Capabilities).
type Capabilities struct {
	ProtocolVersions      []string
	KeyExchanges          []KeyExchange
	Signatures            []Signature
	Encryptions           []Encryption
	MinSecurityLevel      int
	PerfectForwardSecrecy bool
	DoubleRatchet         bool
	PostQuantum           bool
}

// Context carries negotiation policy overrides (spec §4.F).
// RequireQuantumResistant and RequirePFS are enforced during Negotiate
// itself, failing the negotiation outright rather than returning a Result
// a caller must separately validate. Metrics is optional; when set,
// Negotiate records the outcome on it.
type Context struct {
	RequireQuantumResistant bool
	RequirePFS              bool
	Metrics                 *enginemetrics.Metrics
}

// Result is the negotiated outcome (spec §3 NegotiationResult).
type Result struct {
	NegotiationID     string
	ProtocolVersion   string
	KeyExchange       KeyExchange
	Signature         Signature
	Encryption        Encryption
	SecurityLevel     int
	QuantumResistant  bool
	Features          Features
	FallbackAvailable bool
	UpgradeAvailable  bool
}

var negotiationCounter uint64

func nextNegotiationID() string {
	n := atomic.AddUint64(&negotiationCounter, 1)
	return fmt.Sprintf("neg_%d_%s", n, randomSuffix())
}

// randomSuffix produces a short lowercase-hex tail so negotiationId matches
// ^neg_[0-9]+_[a-z0-9]+$ even across processes sharing the same counter
// start. The tail is the leading 8 hex characters of a fresh UUIDv4, which
// already satisfies [a-z0-9]+ once the separating dashes are stripped.
func randomSuffix() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:8]
}

// Negotiate selects the best mutually supported algorithm set for local and
// remote capabilities under the given context, applying the selection
// rules in order, first success wins (spec §4.F). When ctx.Metrics is set,
// every call records its outcome on NegotiationsTotal, labeled by the
// chosen key exchange (or "none" if negotiation failed before one could be
// selected) and "success"/"error".
func Negotiate(local, remote Capabilities, ctx Context) (result Result, err error) {
	kexLabel := "none"
	if ctx.Metrics != nil {
		defer func() {
			ctx.Metrics.NegotiationsTotal.WithLabelValues(kexLabel, resultLabel(err)).Inc()
		}()
	}

	version, err := selectProtocolVersion(local.ProtocolVersions, remote.ProtocolVersions)
	if err != nil {
		return Result{}, err
	}

	kex, err := selectKeyExchange(local.KeyExchanges, remote.KeyExchanges, ctx.RequireQuantumResistant)
	if err != nil {
		return Result{}, err
	}
	kexLabel = string(kex)

	sig := SignatureNone
	if supports(local.Signatures, SignatureDilithium3) && supports(remote.Signatures, SignatureDilithium3) {
		sig = SignatureDilithium3
	}

	enc, err := selectEncryption(local.Encryptions, remote.Encryptions)
	if err != nil {
		return Result{}, err
	}

	securityLevel := local.MinSecurityLevel
	if remote.MinSecurityLevel > securityLevel {
		securityLevel = remote.MinSecurityLevel
	}
	maxForKEX := securityLevelForKEX[kex]
	if securityLevel > maxForKEX {
		return Result{}, fmt.Errorf("%w: effective level %d exceeds %s's ceiling %d", ErrSecurityLevelUnsatisfiable, securityLevel, kex, maxForKEX)
	}
	securityLevel = maxForKEX

	quantumResistant := kex == KeyExchangeHybrid || kex == KeyExchangeKyber768

	features := Features{
		PerfectForwardSecrecy: local.PerfectForwardSecrecy && remote.PerfectForwardSecrecy,
		DoubleRatchet:         local.DoubleRatchet && remote.DoubleRatchet,
		PostQuantum:           local.PostQuantum && remote.PostQuantum,
	}

	if ctx.RequirePFS && !features.PerfectForwardSecrecy {
		return Result{}, ErrPFSUnsatisfiable
	}

	result = Result{
		NegotiationID:    nextNegotiationID(),
		ProtocolVersion:  version,
		KeyExchange:      kex,
		Signature:        sig,
		Encryption:       enc,
		SecurityLevel:    securityLevel,
		QuantumResistant: quantumResistant,
		Features:         features,
	}
	result.FallbackAvailable = hasFallback(local.KeyExchanges, remote.KeyExchanges, kex)
	result.UpgradeAvailable = hasUpgrade(local.KeyExchanges, remote.KeyExchanges, kex)

	return result, nil
}

func selectProtocolVersion(local, remote []string) (string, error) {
	for _, candidate := range ProtocolVersions {
		if contains(local, candidate) && contains(remote, candidate) {
			return candidate, nil
		}
	}
	return "", ErrNoCompatibleProtocol
}

func selectKeyExchange(local, remote []KeyExchange, requireQuantumResistant bool) (KeyExchange, error) {
	for _, candidate := range keyExchangePreference {
		if requireQuantumResistant && candidate == KeyExchangeX25519 {
			continue
		}
		if supports(local, candidate) && supports(remote, candidate) {
			return candidate, nil
		}
	}
	if requireQuantumResistant {
		return "", ErrQuantumResistanceUnsatisfiable
	}
	return "", ErrNoCompatibleProtocol
}

func selectEncryption(local, remote []Encryption) (Encryption, error) {
	for _, enc := range local {
		if enc == EncryptionChaCha20Poly1305 {
			for _, r := range remote {
				if r == EncryptionChaCha20Poly1305 {
					return EncryptionChaCha20Poly1305, nil
				}
			}
		}
	}
	return "", ErrNoCompatibleEncryption
}

// AreCapabilitiesCompatible reports whether any mutually supported
// (keyExchange, encryption) pair exists (spec §4.F areCapabilitiesCompatible).
func AreCapabilitiesCompatible(a, b Capabilities) bool {
	kexCompatible := false
	for _, kex := range keyExchangePreference {
		if supports(a.KeyExchanges, kex) && supports(b.KeyExchanges, kex) {
			kexCompatible = true
			break
		}
	}
	if !kexCompatible {
		return false
	}
	return supports(a.Encryptions, EncryptionChaCha20Poly1305) && supports(b.Encryptions, EncryptionChaCha20Poly1305)
}

// Constraints bounds an acceptable negotiation result (spec §4.F
// validateNegotiationResult).
type Constraints struct {
	MinSecurityLevel      int
	RequireQuantumResistant bool
	RequirePFS            bool
}

// ValidateNegotiationResult checks a Result against Constraints.
func ValidateNegotiationResult(r Result, c Constraints) error {
	if r.SecurityLevel < c.MinSecurityLevel {
		return fmt.Errorf("%w: negotiated level %d below required %d", ErrSecurityLevelUnsatisfiable, r.SecurityLevel, c.MinSecurityLevel)
	}
	if c.RequireQuantumResistant && !r.QuantumResistant {
		return fmt.Errorf("%w: negotiated result is not quantum resistant", ErrQuantumResistanceUnsatisfiable)
	}
	if c.RequirePFS && !r.Features.PerfectForwardSecrecy {
		return fmt.Errorf("negotiation: perfect forward secrecy required but not negotiated")
	}
	return nil
}

func hasFallback(local, remote []KeyExchange, chosen KeyExchange) bool {
	for _, kex := range keyExchangePreference {
		if kex == chosen {
			continue
		}
		if securityLevelForKEX[kex] < securityLevelForKEX[chosen] && supports(local, kex) && supports(remote, kex) {
			return true
		}
	}
	return false
}

func hasUpgrade(local, remote []KeyExchange, chosen KeyExchange) bool {
	for _, kex := range keyExchangePreference {
		if kex == chosen {
			continue
		}
		if securityLevelForKEX[kex] > securityLevelForKEX[chosen] && (supports(local, kex) || supports(remote, kex)) {
			return true
		}
	}
	return false
}

func supports[T comparable](list []T, want T) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
