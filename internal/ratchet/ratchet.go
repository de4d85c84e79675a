// Package ratchet implements the Signal-style Double Ratchet session state
// machine over X25519 + HKDF-SHA-256 + ChaCha20-Poly1305, keyed per
// (conversationId, userId) (spec §4.E), grounded on ericlagergren-dr's
// Session/State shape and the teacher's internal/security/signal.go
// RatchetStep/DeriveMessageKey, generalized to a skip cache that is bounded
// aggregate across every receiving chain a session has used.
package ratchet

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/jaydenbeard/secure-ratchet/internal/chainkey"
	"github.com/jaydenbeard/secure-ratchet/internal/enginemetrics"
	"github.com/jaydenbeard/secure-ratchet/internal/framer"
	"github.com/jaydenbeard/secure-ratchet/internal/primitives"
	"github.com/jaydenbeard/secure-ratchet/internal/secrand"
)

// MaxSkip bounds the aggregate number of skipped-but-cached message keys a
// session may hold across all of its receiving chains (spec §3, §9).
const MaxSkip = 1000

// RatchetStepInterval is the number of consecutive sends after which the
// sender forces its own DH-ratchet step (spec §4.E "Periodic DH-ratchet").
const RatchetStepInterval = 100

// SessionID composite-keys a ratchet session by conversation and local user.
type SessionID struct {
	ConversationID string
	UserID         string
}

// session holds one party's Double Ratchet state for one conversation.
type session struct {
	mu sync.Mutex

	rootKey [chainkey.Size]byte

	sendingChainKey      [chainkey.Size]byte
	sendingMessageNumber uint32
	sendingChainLength   uint32
	sendsSinceRatchet    int

	receivingChainKey          *[chainkey.Size]byte
	receivingMessageNumber     uint32
	receivingChainLength       uint32
	previousReceivingChainLen  uint32
	previousSendingChainLength uint32

	selfRatchetKeyPair     primitives.X25519KeyPair
	remoteRatchetPublicKey *[primitives.X25519KeySize]byte

	skipped *skippedKeyCache

	// soloRatcheted marks that a periodic sender-side ratchet has already
	// run against the current remoteRatchetPublicKey with no intervening
	// receive. A second solo ratchet would DH against the same stale
	// remote key again on top of an already-advanced root key, producing
	// a state the peer cannot reconstruct from a single received message
	// (it would need every intermediate solo-ratchet public key, none of
	// which were ever sent). So at most one solo ratchet is allowed per
	// receive; further triggers just reset the send counter.
	soloRatcheted bool

	initiator   bool
	lastUpdated time.Time

	mode framer.Mode
}

// sharedMultiSenderID is the fixed associated-data sender identity every
// participant in a Multi-Device session uses instead of its own userID
// (spec §4.D), so any device reading the conversation reconstructs the
// same AAD regardless of which device actually sent the message.
func sharedMultiSenderID(conversationID string) string {
	return "shared-multi-" + conversationID
}

// Engine owns every active session, guarded by a map-level lock plus a
// per-session lock so concurrent operations on distinct sessions never
// block each other (spec §5 concurrency model).
type Engine struct {
	mu       sync.RWMutex
	sessions map[SessionID]*session
	metrics  *enginemetrics.Metrics
}

// NewEngine constructs an empty Engine. metrics may be nil, in which case
// the engine runs uninstrumented (useful for tests that don't care about
// Prometheus output).
func NewEngine(metrics *enginemetrics.Metrics) *Engine {
	return &Engine{sessions: make(map[SessionID]*session), metrics: metrics}
}

func ephemeralID(pub [primitives.X25519KeySize]byte) string {
	return secrand.EncodeB64(pub[:])
}

// InitializeRatchet establishes ratchet state for (conversationID, userID)
// from a 32-byte shared secret (spec §4.E "Session initialization"). mode
// is stamped onto the session so every envelope it later produces via
// Encrypt carries the correct metadata.mode/keyId (spec §6, §8 P12).
func (e *Engine) InitializeRatchet(conversationID, userID string, sharedSecret []byte, isInitiator bool, remoteEphemeralPk []byte, mode framer.Mode) error {
	if conversationID == "" || userID == "" {
		return fmt.Errorf("%w: conversationId and userId are required", ErrInvalidArgument)
	}
	if len(sharedSecret) != 32 {
		return fmt.Errorf("%w: sharedSecret must be 32 bytes, got %d", ErrInvalidArgument, len(sharedSecret))
	}

	// The info string deliberately excludes userID: both parties must land
	// on the same (rootKey, chainKey) from the shared secret alone, since
	// the initiator's un-ratcheted first send has to be derivable by a
	// responder who has not yet performed any DH step of its own.
	info := conversationID + "-init"
	derived, err := primitives.DeriveRootAndChainKey(nil, sharedSecret, info)
	if err != nil {
		return fmt.Errorf("ratchet: derive initial keys: %w", err)
	}

	selfKeyPair, err := primitives.GenerateX25519KeyPair(rand.Reader)
	if err != nil {
		return fmt.Errorf("ratchet: generate ratchet key pair: %w", err)
	}

	s := &session{
		rootKey:            derived.RootKey,
		sendingChainKey:    derived.ChainKey,
		selfRatchetKeyPair: *selfKeyPair,
		skipped:            newSkippedKeyCache(MaxSkip),
		initiator:          isInitiator,
		lastUpdated:        time.Now(),
		mode:               mode,
	}

	if isInitiator && remoteEphemeralPk != nil {
		if err := primitives.ValidateX25519PublicKey(remoteEphemeralPk); err != nil {
			return fmt.Errorf("%w", ErrWeakPublicKey)
		}
		var remotePub [primitives.X25519KeySize]byte
		copy(remotePub[:], remoteEphemeralPk)

		dh, err := primitives.ComputeSharedSecret(selfKeyPair.Private, remotePub)
		if err != nil {
			return fmt.Errorf("ratchet: initial dh: %w", err)
		}
		rootDerived, err := primitives.DeriveRootAndChainKey(s.rootKey[:], dh, "RatchetRoot")
		if err != nil {
			return fmt.Errorf("ratchet: derive root on init dh: %w", err)
		}
		s.rootKey = rootDerived.RootKey
		s.sendingChainKey = rootDerived.ChainKey
		s.remoteRatchetPublicKey = &remotePub
	}

	id := SessionID{ConversationID: conversationID, UserID: userID}
	e.mu.Lock()
	_, existed := e.sessions[id]
	e.sessions[id] = s
	e.mu.Unlock()
	if e.metrics != nil && !existed {
		e.metrics.SessionsActive.Inc()
	}
	return nil
}

func (e *Engine) lookup(conversationID, userID string) (*session, error) {
	e.mu.RLock()
	s, ok := e.sessions[SessionID{ConversationID: conversationID, UserID: userID}]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrSessionMissing
	}
	return s, nil
}

// destroy tears a session down after a fatal invariant violation (spec
// §4.E "Internal invariant violations ... fatal to the session").
func (e *Engine) destroy(conversationID, userID string) {
	id := SessionID{ConversationID: conversationID, UserID: userID}
	e.mu.Lock()
	_, existed := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if existed && e.metrics != nil {
		e.metrics.SessionsActive.Dec()
	}
}

// Encrypt seals plaintext under the current sending chain and returns the
// wire envelope (spec §4.E "Send").
func (e *Engine) Encrypt(conversationID, userID string, plaintext []byte) (framer.Envelope, error) {
	s, err := e.lookup(conversationID, userID)
	if err != nil {
		return framer.Envelope{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendsSinceRatchet >= RatchetStepInterval {
		if err := e.forceSenderRatchetLocked(s); err != nil {
			e.destroy(conversationID, userID)
			return framer.Envelope{}, fmt.Errorf("%w: %v", ErrFatalInvariant, err)
		}
	}

	if err := chainkey.Validate(s.sendingChainKey[:]); err != nil {
		e.destroy(conversationID, userID)
		return framer.Envelope{}, fmt.Errorf("%w: sending chain key invalid: %v", ErrFatalInvariant, err)
	}

	nextChainKey, mk := chainkey.Step(s.sendingChainKey, s.sendingMessageNumber)

	nonce, err := secrand.Bytes(primitives.AEADNonceSize)
	if err != nil {
		return framer.Envelope{}, fmt.Errorf("ratchet: generate nonce: %w", err)
	}
	var nonceArr [primitives.AEADNonceSize]byte
	copy(nonceArr[:], nonce)

	senderID := userID
	if s.mode == framer.ModeMultiDevice {
		senderID = sharedMultiSenderID(conversationID)
	}

	ad := framer.AssociatedData{
		SenderID:           senderID,
		MessageNumber:      s.sendingMessageNumber,
		ChainLength:        s.sendingChainLength,
		Timestamp:          time.Now(),
		EphemeralPublicKey: s.selfRatchetKeyPair.Public[:],
	}
	rawAD := framer.Build(ad)

	ciphertext, tag, err := primitives.SealDetached(mk, nonceArr, rawAD, plaintext)
	if err != nil {
		return framer.Envelope{}, fmt.Errorf("ratchet: seal: %w", err)
	}
	secrand.Zeroize(mk[:])

	env := framer.NewEnvelope(s.mode, conversationID, ciphertext, nonce, tag, ad, s.previousSendingChainLength)

	s.sendingChainKey = nextChainKey
	s.sendingMessageNumber++
	s.sendsSinceRatchet++
	s.lastUpdated = time.Now()

	return env, nil
}

// forceSenderRatchetLocked rotates the local ratchet key pair without
// having received a new remote ephemeral key, per the periodic DH-ratchet
// policy. The caller must hold s.mu.
func (e *Engine) forceSenderRatchetLocked(s *session) error {
	if s.remoteRatchetPublicKey == nil || s.soloRatcheted {
		// Either there's no remote key to ratchet against yet, or we've
		// already performed the one allowed solo ratchet since the last
		// receive: re-deriving again would DH against the same stale
		// remote key on top of an already-advanced root, which the peer
		// cannot reconstruct from a single message. No-op and keep
		// advancing the existing sending chain.
		s.sendsSinceRatchet = 0
		return nil
	}

	newKeyPair, err := primitives.GenerateX25519KeyPair(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate ratchet key pair: %w", err)
	}
	dh, err := primitives.ComputeSharedSecret(newKeyPair.Private, *s.remoteRatchetPublicKey)
	if err != nil {
		return fmt.Errorf("dh: %w", err)
	}
	derived, err := primitives.DeriveRootAndChainKey(s.rootKey[:], dh, "RatchetRoot")
	if err != nil {
		return fmt.Errorf("derive root: %w", err)
	}

	s.rootKey = derived.RootKey
	s.sendingChainKey = derived.ChainKey
	s.selfRatchetKeyPair = *newKeyPair
	s.previousSendingChainLength = s.sendingMessageNumber
	s.sendingMessageNumber = 0
	s.sendingChainLength++
	s.sendsSinceRatchet = 0
	s.soloRatcheted = true
	if e.metrics != nil {
		e.metrics.RatchetStepsTotal.WithLabelValues("periodic").Inc()
	}
	return nil
}

// Decrypt opens an envelope, performing a DH-ratchet step first if the
// envelope carries a new remote ephemeral key (spec §4.E "Receive").
func (e *Engine) Decrypt(conversationID, userID string, env framer.Envelope) ([]byte, error) {
	s, err := e.lookup(conversationID, userID)
	if err != nil {
		return nil, err
	}

	decoded, err := framer.Decode(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := primitives.ValidateX25519PublicKey(decoded.EphemeralPublicKey); err != nil {
		return nil, ErrWeakPublicKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var envelopePub [primitives.X25519KeySize]byte
	copy(envelopePub[:], decoded.EphemeralPublicKey)

	// Work against a cloned skip cache so a failure never mutates state
	// the caller will retry against (spec I4 atomicity).
	workingSkipped := s.skipped.clone()

	isNewRemoteKey := s.remoteRatchetPublicKey == nil || *s.remoteRatchetPublicKey != envelopePub

	rootKey := s.rootKey
	sendingChainKey := s.sendingChainKey
	sendingMessageNumber := s.sendingMessageNumber
	sendingChainLength := s.sendingChainLength
	previousSendingChainLength := s.previousSendingChainLength
	receivingChainKey := s.receivingChainKey
	receivingMessageNumber := s.receivingMessageNumber
	receivingChainLength := s.receivingChainLength
	selfKeyPair := s.selfRatchetKeyPair
	remotePub := s.remoteRatchetPublicKey

	if isNewRemoteKey {
		if remotePub != nil && receivingChainKey != nil {
			toSkip := decoded.PreviousChainLength
			if receivingMessageNumber <= toSkip {
				toSkip -= receivingMessageNumber
			} else {
				toSkip = 0
			}
			ck := *receivingChainKey
			oldEphemeral := ephemeralID(*remotePub)
			for i := uint32(0); i < toSkip; i++ {
				if workingSkipped.remainingCapacity() <= 0 {
					return nil, ErrTooManySkipped
				}
				n := receivingMessageNumber + i
				next, mk := chainkey.Step(ck, n)
				workingSkipped.store(oldEphemeral, n, mk)
				ck = next
			}
		}

		dh1, err := primitives.ComputeSharedSecret(selfKeyPair.Private, envelopePub)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWeakPublicKey, err)
		}
		rootDerived1, err := primitives.DeriveRootAndChainKey(rootKey[:], dh1, "RatchetRoot")
		if err != nil {
			e.destroy(conversationID, userID)
			return nil, fmt.Errorf("%w: derive receiving root: %v", ErrFatalInvariant, err)
		}
		rootKey = rootDerived1.RootKey
		newReceivingChainKey := rootDerived1.ChainKey
		receivingChainKey = &newReceivingChainKey

		newSelfKeyPair, err := primitives.GenerateX25519KeyPair(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("ratchet: generate ratchet key pair: %w", err)
		}
		dh2, err := primitives.ComputeSharedSecret(newSelfKeyPair.Private, envelopePub)
		if err != nil {
			e.destroy(conversationID, userID)
			return nil, fmt.Errorf("%w: derive sending dh: %v", ErrFatalInvariant, err)
		}
		rootDerived2, err := primitives.DeriveRootAndChainKey(rootKey[:], dh2, "RatchetRoot")
		if err != nil {
			e.destroy(conversationID, userID)
			return nil, fmt.Errorf("%w: derive sending root: %v", ErrFatalInvariant, err)
		}
		rootKey = rootDerived2.RootKey
		sendingChainKey = rootDerived2.ChainKey
		selfKeyPair = *newSelfKeyPair

		previousSendingChainLength = sendingMessageNumber
		sendingMessageNumber = 0
		receivingMessageNumber = 0
		sendingChainLength++
		receivingChainLength++
		remotePub = &envelopePub

		if e.metrics != nil {
			e.metrics.RatchetStepsTotal.WithLabelValues("receive").Inc()
		}
	}

	if receivingChainKey == nil {
		e.destroy(conversationID, userID)
		return nil, fmt.Errorf("%w: no receiving chain established", ErrFatalInvariant)
	}

	var mk [chainkey.Size]byte
	var nextReceivingChainKey *[chainkey.Size]byte
	var nextReceivingMessageNumber uint32
	currentEphemeral := ephemeralID(envelopePub)

	if decoded.MessageNumber < receivingMessageNumber {
		found, ok := workingSkipped.take(currentEphemeral, decoded.MessageNumber)
		if !ok {
			return nil, ErrMessageKeyMissing
		}
		mk = found
		nextReceivingChainKey = receivingChainKey
		nextReceivingMessageNumber = receivingMessageNumber
	} else {
		ck := *receivingChainKey
		n := receivingMessageNumber
		for n < decoded.MessageNumber {
			if workingSkipped.remainingCapacity() <= 0 {
				return nil, ErrTooManySkipped
			}
			next, skippedMK := chainkey.Step(ck, n)
			workingSkipped.store(currentEphemeral, n, skippedMK)
			ck = next
			n++
		}
		next, derivedMK := chainkey.Step(ck, n)
		mk = derivedMK
		nextReceivingChainKey = &next
		nextReceivingMessageNumber = n + 1
	}

	var nonceArr [primitives.AEADNonceSize]byte
	if len(decoded.Nonce) != primitives.AEADNonceSize {
		return nil, fmt.Errorf("%w: nonce length %d", ErrInvalidArgument, len(decoded.Nonce))
	}
	copy(nonceArr[:], decoded.Nonce)

	plaintext, err := primitives.OpenDetached(mk, nonceArr, decoded.AssociatedData, decoded.Ciphertext, decoded.Tag)
	if err != nil {
		return nil, ErrAuthFailure
	}
	secrand.Zeroize(mk[:])

	s.rootKey = rootKey
	s.sendingChainKey = sendingChainKey
	s.sendingMessageNumber = sendingMessageNumber
	s.sendingChainLength = sendingChainLength
	s.previousSendingChainLength = previousSendingChainLength
	s.receivingChainKey = nextReceivingChainKey
	s.receivingMessageNumber = nextReceivingMessageNumber
	s.receivingChainLength = receivingChainLength
	s.previousReceivingChainLen = decoded.ChainLength
	s.selfRatchetKeyPair = selfKeyPair
	s.remoteRatchetPublicKey = remotePub
	s.skipped = workingSkipped
	s.sendsSinceRatchet = 0
	s.soloRatcheted = false
	s.lastUpdated = time.Now()

	return plaintext, nil
}

// SessionRatchetPublicKey returns the session's current self ratchet public
// key, so an application layer can publish it out-of-band (e.g. in an X3DH
// prekey bundle) for the remote party's InitializeRatchet call.
func (e *Engine) SessionRatchetPublicKey(conversationID, userID string) ([]byte, error) {
	s, err := e.lookup(conversationID, userID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pub := make([]byte, primitives.X25519KeySize)
	copy(pub, s.selfRatchetKeyPair.Public[:])
	return pub, nil
}

// HasSession reports whether ratchet state exists for (conversationID, userID).
func (e *Engine) HasSession(conversationID, userID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.sessions[SessionID{ConversationID: conversationID, UserID: userID}]
	return ok
}

// RemoveSession discards ratchet state for (conversationID, userID), if any.
func (e *Engine) RemoveSession(conversationID, userID string) {
	e.destroy(conversationID, userID)
}
