package orchestrator

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/jaydenbeard/secure-ratchet/internal/primitives"
	"github.com/jaydenbeard/secure-ratchet/internal/secrand"
)

// KeyMaterial is the tagged-union persisted by generateUserKeys (spec §4.G):
// each mode has a distinct concrete payload, stored under a key built from
// the user ID and the active mode. The Tag value itself is not written to
// storage.
type KeyMaterial interface {
	Tag() string
}

const (
	TagX25519PFS        = "x25519-pfs"
	TagConversationPFS  = "conversation-pfs"
	TagPQCHybrid        = "pqc-hybrid"
	TagMultiDevice      = "multi-device"
)

// X25519Material is the PFS mode's identity key pair (spec §4.G "PFS").
type X25519Material struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

func (X25519Material) Tag() string { return TagX25519PFS }

func newX25519Material() (X25519Material, primitives.X25519KeyPair, error) {
	kp, err := primitives.GenerateX25519KeyPair(rand.Reader)
	if err != nil {
		return X25519Material{}, primitives.X25519KeyPair{}, fmt.Errorf("orchestrator: generate x25519 identity: %w", err)
	}
	return X25519Material{
		PublicKey:  secrand.EncodeB64(kp.Public[:]),
		PrivateKey: secrand.EncodeB64(kp.Private[:]),
	}, *kp, nil
}

// ConversationPFSMaterial is the degenerate symmetric mode retained only for
// interop with the source repo's legacy clients (spec §4.G, §9): a single
// deterministic key derived from conversationId, bypassing the ratchet
// entirely. New code should prefer PFS.
type ConversationPFSMaterial struct {
	ConversationID string `json:"conversationId"`
	Key            string `json:"key"`
}

func (ConversationPFSMaterial) Tag() string { return TagConversationPFS }

// PQCMaterial is the PQC mode's hybrid key pair: a Kyber-768 KEM pair plus
// a Dilithium-3 signing pair (spec §4.G "PQC").
type PQCMaterial struct {
	KyberPublicKey      string `json:"kyberPublicKey"`
	KyberPrivateKey     string `json:"kyberPrivateKey"`
	DilithiumPublicKey  string `json:"dilithiumPublicKey"`
	DilithiumPrivateKey string `json:"dilithiumPrivateKey"`
}

func (PQCMaterial) Tag() string { return TagPQCHybrid }

func newPQCMaterial() (PQCMaterial, error) {
	kyberKP, err := primitives.GenerateKyberKeyPair(rand.Reader)
	if err != nil {
		return PQCMaterial{}, fmt.Errorf("orchestrator: generate kyber pair: %w", err)
	}
	dilKP, err := primitives.GenerateDilithiumKeyPair(rand.Reader)
	if err != nil {
		return PQCMaterial{}, fmt.Errorf("orchestrator: generate dilithium pair: %w", err)
	}
	return PQCMaterial{
		KyberPublicKey:      secrand.EncodeB64(kyberKP.Public),
		KyberPrivateKey:     secrand.EncodeB64(kyberKP.Private),
		DilithiumPublicKey:  secrand.EncodeB64(dilKP.Public),
		DilithiumPrivateKey: secrand.EncodeB64(dilKP.Private),
	}, nil
}

// MultiDeviceMaterial pairs a device signing key with the conversation's
// shared X25519 key (spec §4.G "Multi-Device").
type MultiDeviceMaterial struct {
	DeviceSignPublicKey  string `json:"deviceSignPublicKey"`
	DeviceSignPrivateKey string `json:"deviceSignPrivateKey"`
	ConversationPublicKey  string `json:"conversationPublicKey"`
	ConversationPrivateKey string `json:"conversationPrivateKey"`
}

func (MultiDeviceMaterial) Tag() string { return TagMultiDevice }

func newMultiDeviceMaterial() (MultiDeviceMaterial, error) {
	signKP, err := primitives.GenerateDilithiumKeyPair(rand.Reader)
	if err != nil {
		return MultiDeviceMaterial{}, fmt.Errorf("orchestrator: generate device signing pair: %w", err)
	}
	conv, err := primitives.GenerateX25519KeyPair(rand.Reader)
	if err != nil {
		return MultiDeviceMaterial{}, fmt.Errorf("orchestrator: generate conversation pair: %w", err)
	}
	return MultiDeviceMaterial{
		DeviceSignPublicKey:    secrand.EncodeB64(signKP.Public),
		DeviceSignPrivateKey:   secrand.EncodeB64(signKP.Private),
		ConversationPublicKey:  secrand.EncodeB64(conv.Public[:]),
		ConversationPrivateKey: secrand.EncodeB64(conv.Private[:]),
	}, nil
}

// marshalKeyMaterial serializes a KeyMaterial to the JSON blob persisted in
// ordinary storage.
func marshalKeyMaterial(km KeyMaterial) ([]byte, error) {
	return json.Marshal(km)
}
