// Package framer builds the associated data bound into every AEAD call
// and packages the wire envelope (spec §4.D, §6).
package framer

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/jaydenbeard/secure-ratchet/internal/secrand"
)

// Mode identifies which orchestrator path produced an envelope.
type Mode string

const (
	ModePFS             Mode = "PFS"
	ModePQC             Mode = "PQC"
	ModeMultiDevice     Mode = "MULTI_DEVICE"
	ModeConversationPFS Mode = "CONVERSATION_PFS"
)

// AssociatedData is the exact input the sender hashes into the AEAD call
// and the receiver must reconstruct byte-for-byte (spec §4.D bit-exact
// requirement).
type AssociatedData struct {
	SenderID            string
	MessageNumber       uint32
	ChainLength         uint32
	Timestamp           time.Time
	EphemeralPublicKey  []byte
}

// Build serializes AssociatedData as the big-endian concatenation:
//
//	len(senderId) :: senderId :: u32 messageNumber :: u32 chainLength ::
//	u64 timestamp :: u32 len(ephemeralPk) :: ephemeralPk
func Build(ad AssociatedData) []byte {
	senderBytes := []byte(ad.SenderID)
	buf := make([]byte, 0, 4+len(senderBytes)+4+4+8+4+len(ad.EphemeralPublicKey))

	buf = appendU32(buf, uint32(len(senderBytes)))
	buf = append(buf, senderBytes...)
	buf = appendU32(buf, ad.MessageNumber)
	buf = appendU32(buf, ad.ChainLength)
	buf = appendU64(buf, uint64(ad.Timestamp.UnixMilli()))
	buf = appendU32(buf, uint32(len(ad.EphemeralPublicKey)))
	buf = append(buf, ad.EphemeralPublicKey...)
	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// Metadata is the envelope's metadata block (spec §6). Every field here is
// exactly what Decode needs to rebuild the AssociatedData that was hashed
// into the AEAD call — the receiver never trusts a separately-transmitted
// associated-data blob, it recomputes one from these fields and lets the
// AEAD tag itself catch any tampering with them.
type Metadata struct {
	Mode                Mode   `json:"mode"`
	SenderID            string `json:"senderId"`
	EphemeralPublicKey  string `json:"ephemeralPublicKey"`
	MessageNumber       uint32 `json:"messageNumber"`
	ChainLength         uint32 `json:"chainLength"`
	PreviousChainLength uint32 `json:"previousChainLength"`
	Timestamp           int64  `json:"timestamp"`
}

// Envelope is the on-wire encrypted message (spec §6 EncryptedEnvelope).
type Envelope struct {
	EncryptedText string   `json:"encryptedText"`
	IV            string   `json:"iv"`
	Tag           string   `json:"tag"`
	KeyID         string   `json:"keyId"`
	Metadata      Metadata `json:"metadata"`
}

// KeyID builds the envelope's keyId field: "<mode>-<conversationId>".
func KeyID(mode Mode, conversationID string) string {
	return fmt.Sprintf("%s-%s", mode, conversationID)
}

// NewEnvelope assembles an Envelope from raw AEAD output and the
// associated-data fields used to produce it, base64-encoding every binary
// field per spec §3. The raw associated-data bytes are not carried on the
// wire: Decode reconstructs them from the Metadata fields below via Build,
// so there is nothing left to keep in sync by hand.
func NewEnvelope(mode Mode, conversationID string, ciphertext, nonce, tag []byte, ad AssociatedData, previousChainLength uint32) Envelope {
	return Envelope{
		EncryptedText: secrand.EncodeB64(ciphertext),
		IV:            secrand.EncodeB64(nonce),
		Tag:           secrand.EncodeB64(tag),
		KeyID:         KeyID(mode, conversationID),
		Metadata: Metadata{
			Mode:                mode,
			SenderID:            ad.SenderID,
			EphemeralPublicKey:  secrand.EncodeB64(ad.EphemeralPublicKey),
			MessageNumber:       ad.MessageNumber,
			ChainLength:         ad.ChainLength,
			PreviousChainLength: previousChainLength,
			Timestamp:           ad.Timestamp.UnixMilli(),
		},
	}
}

// DecodedEnvelope holds the binary fields of an Envelope after base64
// decoding, ready for the ratchet engine to consume.
type DecodedEnvelope struct {
	Ciphertext         []byte
	Nonce              []byte
	Tag                []byte
	EphemeralPublicKey []byte
	AssociatedData     []byte
	MessageNumber      uint32
	ChainLength        uint32
	PreviousChainLength uint32
	Timestamp          time.Time
	Mode               Mode
}

// Decode base64-decodes every binary field of an Envelope and rebuilds the
// associated data from Metadata via Build, rather than trusting a
// separately-transmitted associated-data blob. Metadata fields drive the
// ratchet's receive-side state machine (message numbers, chain lengths,
// ephemeral keys), so the AD bound into the AEAD tag must be derived from
// those same transmitted fields: any tampering with them then also changes
// what the AEAD authenticates, and OpenDetached rejects it outright instead
// of letting a forged Metadata field desync session state past an
// unrelated AD check.
func Decode(env Envelope) (DecodedEnvelope, error) {
	ciphertext, err := secrand.DecodeB64(env.EncryptedText)
	if err != nil {
		return DecodedEnvelope{}, fmt.Errorf("framer: decode ciphertext: %w", err)
	}
	nonce, err := secrand.DecodeB64(env.IV)
	if err != nil {
		return DecodedEnvelope{}, fmt.Errorf("framer: decode nonce: %w", err)
	}
	tag, err := secrand.DecodeB64(env.Tag)
	if err != nil {
		return DecodedEnvelope{}, fmt.Errorf("framer: decode tag: %w", err)
	}
	ephemeral, err := secrand.DecodeB64(env.Metadata.EphemeralPublicKey)
	if err != nil {
		return DecodedEnvelope{}, fmt.Errorf("framer: decode ephemeral public key: %w", err)
	}

	timestamp := time.UnixMilli(env.Metadata.Timestamp)
	ad := Build(AssociatedData{
		SenderID:           env.Metadata.SenderID,
		MessageNumber:      env.Metadata.MessageNumber,
		ChainLength:        env.Metadata.ChainLength,
		Timestamp:          timestamp,
		EphemeralPublicKey: ephemeral,
	})

	return DecodedEnvelope{
		Ciphertext:          ciphertext,
		Nonce:               nonce,
		Tag:                 tag,
		EphemeralPublicKey:  ephemeral,
		AssociatedData:      ad,
		MessageNumber:       env.Metadata.MessageNumber,
		ChainLength:         env.Metadata.ChainLength,
		PreviousChainLength: env.Metadata.PreviousChainLength,
		Timestamp:           timestamp,
		Mode:                env.Metadata.Mode,
	}, nil
}
