// Package orchestrator implements the adaptive mode orchestrator (spec
// §4.G): the single entry point an application embeds to manage encryption
// mode, key lifecycle, and dispatch to the Double Ratchet engine, the
// hybrid PQC key exchange, or the legacy conversation-PFS interop path.
// Grounded on the teacher's internal/security/identity_key_rotation.go for
// the explicit lifecycle/logging shape and internal/security/signal.go for
// the session-establishment dispatch pattern.
package orchestrator

import (
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jaydenbeard/secure-ratchet/internal/enginemetrics"
	"github.com/jaydenbeard/secure-ratchet/internal/framer"
	"github.com/jaydenbeard/secure-ratchet/internal/keystore"
	"github.com/jaydenbeard/secure-ratchet/internal/orchestrator/legacyconv"
	"github.com/jaydenbeard/secure-ratchet/internal/primitives"
	"github.com/jaydenbeard/secure-ratchet/internal/ratchet"
	"github.com/jaydenbeard/secure-ratchet/internal/secrand"
)

// EncryptionMode is the active encryption scheme (spec §3 EncryptionMode).
type EncryptionMode string

const (
	ModePFS            EncryptionMode = "PFS"
	ModeConversationPFS EncryptionMode = "CONVERSATION_PFS"
	ModePQC            EncryptionMode = "PQC"
	ModeMultiDevice    EncryptionMode = "MULTI_DEVICE"
)

// lifecycleState tracks the orchestrator's explicit, non-singleton
// lifecycle (spec §5 scheduling model talks about "the Orchestrator",
// singular per client instance — but nothing requires a package-level
// singleton, so this type is constructed and torn down explicitly).
type lifecycleState int

const (
	stateInit lifecycleState = iota
	stateActive
	stateDrained
	stateDestroyed
)

var (
	ErrAlreadyDestroyed = errors.New("orchestrator: already destroyed")
	ErrNotActive        = errors.New("orchestrator: not active")
	ErrNoKeys           = errors.New("orchestrator: no keys loaded for user")
	ErrUnsupportedMode  = errors.New("orchestrator: unsupported encryption mode")
)

// Orchestrator is the adaptive mode orchestrator. One instance should be
// constructed per local client identity.
type Orchestrator struct {
	lifecycleMu sync.RWMutex
	lifecycle   lifecycleState

	modeMu sync.RWMutex
	mode   EncryptionMode

	genMu sync.Mutex // serializes generateUserKeys; concurrent callers each generate in turn, not coalesced

	keysMu sync.RWMutex
	keys   map[string]KeyMaterial // userID -> currently loaded key material

	engine   *ratchet.Engine
	secure   *keystore.SecureStore
	ordinary *keystore.OrdinaryStore
	legacy   *keystore.LegacyPlaintextStore
	metrics  *enginemetrics.Metrics
	logger   *log.Logger
}

// New constructs an Orchestrator backed by OS-secure passphrase storage and
// file-backed key blob storage. metrics must be a non-nil *enginemetrics.Metrics.
func New(appName, ordinaryDir, legacyDir string, metrics *enginemetrics.Metrics) (*Orchestrator, error) {
	secure, err := keystore.NewSecureStore(appName)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: init secure store: %w", err)
	}
	ordinary, err := keystore.NewOrdinaryStore(ordinaryDir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: init ordinary store: %w", err)
	}
	legacy, err := keystore.NewLegacyPlaintextStore(legacyDir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: init legacy store: %w", err)
	}

	o := &Orchestrator{
		lifecycle: stateActive,
		mode:      ModePFS,
		keys:      make(map[string]KeyMaterial),
		engine:    ratchet.NewEngine(metrics),
		secure:    secure,
		ordinary:  ordinary,
		legacy:    legacy,
		metrics:   metrics,
		logger:    log.New(os.Stdout, "[RATCHET-ORCHESTRATOR] ", log.Ldate|log.Ltime|log.LUTC),
	}
	return o, nil
}

func (o *Orchestrator) requireActive() error {
	o.lifecycleMu.RLock()
	defer o.lifecycleMu.RUnlock()
	switch o.lifecycle {
	case stateDestroyed:
		return ErrAlreadyDestroyed
	case stateActive:
		return nil
	default:
		return ErrNotActive
	}
}

// Drain stops accepting new operations but keeps key material resident,
// matching a graceful-shutdown step before Destroy.
func (o *Orchestrator) Drain() {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()
	if o.lifecycle == stateActive {
		o.lifecycle = stateDrained
	}
}

// Destroy wipes in-memory key material and tears the orchestrator down.
// It is idempotent.
func (o *Orchestrator) Destroy() {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()
	if o.lifecycle == stateDestroyed {
		return
	}
	o.keysMu.Lock()
	o.keys = make(map[string]KeyMaterial)
	o.keysMu.Unlock()
	o.lifecycle = stateDestroyed
}

// SetMode sets the active mode and clears all in-memory keys for the
// previous mode (spec I5). The mode is held in memory only and is not
// persisted; every New Orchestrator starts in ModePFS.
func (o *Orchestrator) SetMode(mode EncryptionMode) error {
	if err := o.requireActive(); err != nil {
		return err
	}
	switch mode {
	case ModePFS, ModeConversationPFS, ModePQC, ModeMultiDevice:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}

	o.modeMu.Lock()
	previous := o.mode
	o.mode = mode
	o.modeMu.Unlock()

	if previous != mode {
		o.keysMu.Lock()
		o.keys = make(map[string]KeyMaterial)
		o.keysMu.Unlock()
		o.logger.Printf("mode changed %s -> %s, in-memory keys cleared", previous, mode)
	}
	return nil
}

// GetMode returns the active encryption mode.
func (o *Orchestrator) GetMode() EncryptionMode {
	o.modeMu.RLock()
	defer o.modeMu.RUnlock()
	return o.mode
}

// storageKey builds a store key safe for both the OS keyring and
// OrdinaryStore's filename-derived key pattern: userID and conversationId
// values are arbitrary application strings, so each component is
// base32-encoded before joining rather than trusting it to already be a
// valid filename fragment.
func storageKey(prefix string, mode EncryptionMode, userID string) string {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return fmt.Sprintf("%s-%s-%s", prefix, enc.EncodeToString([]byte(mode)), enc.EncodeToString([]byte(userID)))
}

func passphraseKey(userID string, mode EncryptionMode) string {
	return storageKey("passphrase", mode, userID)
}

func blobKey(userID string, mode EncryptionMode) string {
	return storageKey("keys", mode, userID)
}

// GenerateUserKeys generates fresh key material for userID under the
// active mode, persists the passphrase to secure storage and the key blob
// to ordinary storage, and caches it in memory (spec §4.G
// generateUserKeys). Concurrent callers for the same (userID, mode) are
// serialized by genMu; none observe partial state.
func (o *Orchestrator) GenerateUserKeys(userID, passphrase string) (KeyMaterial, error) {
	if err := o.requireActive(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrUnsupportedMode)
	}

	o.genMu.Lock()
	defer o.genMu.Unlock()

	mode := o.GetMode()
	km, err := o.buildKeyMaterial(mode, userID)
	if err != nil {
		return nil, err
	}

	blob, err := marshalKeyMaterial(km)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: marshal key material: %w", err)
	}

	if passphrase == "" {
		passphrase, err = randomPassphrase(32)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: generate passphrase: %w", err)
		}
	}
	if err := o.secure.Set(passphraseKey(userID, mode), []byte(passphrase)); err != nil {
		return nil, fmt.Errorf("orchestrator: persist passphrase: %w", err)
	}

	sealed, err := keystore.NewBlobSealer(passphrase).Seal(blob)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: seal key blob: %w", err)
	}
	if err := o.ordinary.Set(blobKey(userID, mode), sealed); err != nil {
		return nil, fmt.Errorf("orchestrator: persist key blob: %w", err)
	}

	o.keysMu.Lock()
	o.keys[userID] = km
	o.keysMu.Unlock()

	if o.metrics != nil {
		o.metrics.KeyGenerationsTotal.WithLabelValues(string(mode)).Inc()
	}
	return km, nil
}

func (o *Orchestrator) buildKeyMaterial(mode EncryptionMode, userID string) (KeyMaterial, error) {
	switch mode {
	case ModePFS:
		material, _, err := newX25519Material()
		return material, err
	case ModeConversationPFS:
		o.logger.Printf("warning: conversation-PFS mode requested for user %s; this is a legacy interop path, not forward-secret", userID)
		key, err := demoSharedSecret(userID)
		if err != nil {
			return nil, err
		}
		return ConversationPFSMaterial{ConversationID: userID, Key: secrand.EncodeB64(key)}, nil
	case ModePQC:
		return newPQCMaterial()
	case ModeMultiDevice:
		return newMultiDeviceMaterial()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
}

// LoadUserKeys loads key material for userID from storage using the stored
// passphrase, following the same secure-then-legacy-migration path as
// AreStoredKeysValid (spec §4.G: "MUST use the same path ... otherwise
// false positives occur").
func (o *Orchestrator) LoadUserKeys(userID, _ string) (bool, error) {
	if err := o.requireActive(); err != nil {
		return false, err
	}
	mode := o.GetMode()

	passphrase, err := keystore.LoadPassphrase(o.secure, o.legacy, passphraseKey(userID, mode))
	if err != nil {
		return false, fmt.Errorf("orchestrator: load passphrase: %w", err)
	}
	if passphrase == nil {
		return false, nil
	}

	sealed, err := o.ordinary.Get(blobKey(userID, mode))
	if err != nil || sealed == nil {
		return false, nil
	}
	blob, err := keystore.NewBlobSealer(string(passphrase)).Open(sealed)
	if err != nil {
		return false, nil
	}

	km, err := unmarshalKeyMaterial(mode, blob)
	if err != nil {
		return false, nil
	}

	o.keysMu.Lock()
	o.keys[userID] = km
	o.keysMu.Unlock()
	return true, nil
}

// AreStoredKeysValid reports whether userID's stored key material loads and
// deserializes cleanly, wiping any partially-loaded state on failure
// (spec §4.G, non-throwing).
func (o *Orchestrator) AreStoredKeysValid(userID string) bool {
	ok, err := o.LoadUserKeys(userID, "")
	if err != nil || !ok {
		o.keysMu.Lock()
		delete(o.keys, userID)
		o.keysMu.Unlock()
		return false
	}
	return true
}

// HasUserKeys reports whether userID's key material is currently cached
// in memory.
func (o *Orchestrator) HasUserKeys(userID string) bool {
	o.keysMu.RLock()
	defer o.keysMu.RUnlock()
	_, ok := o.keys[userID]
	return ok
}

// ClearKeys wipes userID's in-memory key material without touching
// persisted storage.
func (o *Orchestrator) ClearKeys(userID string) {
	o.keysMu.Lock()
	defer o.keysMu.Unlock()
	delete(o.keys, userID)
}

// RemoveKeys wipes userID's key material from memory and from both
// storage backends.
func (o *Orchestrator) RemoveKeys(userID string) error {
	mode := o.GetMode()
	o.ClearKeys(userID)
	if err := o.secure.Remove(passphraseKey(userID, mode)); err != nil {
		return err
	}
	return o.ordinary.Remove(blobKey(userID, mode))
}

// EncryptionStatus summarizes the orchestrator's current state (spec §4.G
// getEncryptionStatus).
type EncryptionStatus struct {
	Mode        EncryptionMode
	HasKeys     bool
	IsEnabled   bool
}

// GetEncryptionStatus reports the active mode and whether userID has usable
// keys and an established session for conversationID.
func (o *Orchestrator) GetEncryptionStatus(conversationID, userID string) EncryptionStatus {
	return EncryptionStatus{
		Mode:      o.GetMode(),
		HasKeys:   o.HasUserKeys(userID),
		IsEnabled: o.IsEncryptionEnabled(conversationID, userID),
	}
}

// IsEncryptionEnabled reports whether a ratchet session already exists for
// (conversationID, userID) under the active mode.
func (o *Orchestrator) IsEncryptionEnabled(conversationID, userID string) bool {
	switch o.GetMode() {
	case ModeConversationPFS:
		return o.HasUserKeys(userID)
	default:
		return o.engine.HasSession(conversationID, userID)
	}
}

// EnableEncryption ensures a ratchet session exists for conversationID
// under the active mode, deriving a demo-mode deterministic shared secret
// from conversationID when no real key exchange output is supplied (spec
// §4.G, §9 "demo mode").
func (o *Orchestrator) EnableEncryption(conversationID, userID string, isInitiator bool, remoteEphemeralPk []byte) error {
	if err := o.requireActive(); err != nil {
		return err
	}
	switch o.GetMode() {
	case ModeConversationPFS:
		return nil // the ratchet is bypassed entirely for this mode
	case ModePFS, ModePQC, ModeMultiDevice:
		if o.engine.HasSession(conversationID, userID) {
			return nil
		}
		sharedSecret, err := demoSharedSecret(conversationID)
		if err != nil {
			return err
		}
		return o.engine.InitializeRatchet(conversationID, userID, sharedSecret, isInitiator, remoteEphemeralPk, framer.Mode(o.GetMode()))
	default:
		return ErrUnsupportedMode
	}
}

// EnableEncryptionWithSecret establishes a ratchet session from a real
// key-exchange output rather than the deterministic demo secret: callers
// running ModePQC should pass the FinalSharedSecret produced by
// PerformPQCHandshake (or CompletePQCHandshake), so the session's root key
// actually depends on a fresh Kyber-768 encapsulation and X25519 DH rather
// than conversationID alone.
func (o *Orchestrator) EnableEncryptionWithSecret(conversationID, userID string, isInitiator bool, remoteEphemeralPk, sharedSecret []byte) error {
	if err := o.requireActive(); err != nil {
		return err
	}
	switch o.GetMode() {
	case ModeConversationPFS:
		return nil
	case ModePFS, ModePQC, ModeMultiDevice:
		if o.engine.HasSession(conversationID, userID) {
			return nil
		}
		return o.engine.InitializeRatchet(conversationID, userID, sharedSecret, isInitiator, remoteEphemeralPk, framer.Mode(o.GetMode()))
	default:
		return ErrUnsupportedMode
	}
}

// PerformPQCHandshake runs the initiator's half of the hybrid PQC key
// exchange (spec §4.G) against a remote's published combined public key,
// using userID's own PQCMaterial for the Dilithium signature. The returned
// KeyExchangeResult.FinalSharedSecret is suitable for
// EnableEncryptionWithSecret; localEphemeralPublicKey must be published to
// the remote so it can call CompletePQCHandshake.
func (o *Orchestrator) PerformPQCHandshake(userID string, remote RemoteCombinedPublicKey) (KeyExchangeResult, []byte, error) {
	if err := o.requireActive(); err != nil {
		return KeyExchangeResult{}, nil, err
	}
	o.keysMu.RLock()
	km, ok := o.keys[userID].(PQCMaterial)
	o.keysMu.RUnlock()
	if !ok {
		return KeyExchangeResult{}, nil, ErrKeyExchangeModeMismatch
	}
	return performKeyExchange(km, remote)
}

// PublishPQCHandshakeBundle generates the ephemeral X25519 pair userID needs
// to act as the responder side of a hybrid handshake, paired with its own
// Kyber-768 public key. The caller publishes Bundle.Public to the initiator
// and keeps the returned bundle to pass its PrivateKey() into
// CompletePQCHandshake once the initiator's response arrives.
func (o *Orchestrator) PublishPQCHandshakeBundle(userID string) (PQCHandshakeBundle, error) {
	if err := o.requireActive(); err != nil {
		return PQCHandshakeBundle{}, err
	}
	o.keysMu.RLock()
	km, ok := o.keys[userID].(PQCMaterial)
	o.keysMu.RUnlock()
	if !ok {
		return PQCHandshakeBundle{}, ErrKeyExchangeModeMismatch
	}
	return NewPQCHandshakeBundle(km)
}

// CompletePQCHandshake runs the responder's half of the hybrid PQC key
// exchange, recovering the same FinalSharedSecret the initiator derived in
// PerformPQCHandshake. localClassicalPriv is the responder's own ephemeral
// X25519 private key generated for this handshake; its public half must
// have been included in the RemoteCombinedPublicKey the initiator used.
func (o *Orchestrator) CompletePQCHandshake(userID, initiatorDilithiumPublicKey string, initiatorEphemeralX25519Public, kyberCiphertext, signature []byte, localClassicalPriv [primitives.X25519KeySize]byte) ([]byte, error) {
	if err := o.requireActive(); err != nil {
		return nil, err
	}
	o.keysMu.RLock()
	km, ok := o.keys[userID].(PQCMaterial)
	o.keysMu.RUnlock()
	if !ok {
		return nil, ErrKeyExchangeModeMismatch
	}
	return completeKeyExchange(km, initiatorDilithiumPublicKey, initiatorEphemeralX25519Public, kyberCiphertext, signature, localClassicalPriv)
}

// demoSharedSecret derives a deterministic 32-byte value from conversationID
// for local testing without a transport-layer key exchange. Production
// deployments should call EnableEncryptionWithSecret with a real KEX output
// instead (spec §9: "production mode").
func demoSharedSecret(conversationID string) ([]byte, error) {
	derived, err := primitives.DeriveRootAndChainKey(nil, []byte(conversationID), "DemoSharedSecret")
	if err != nil {
		return nil, fmt.Errorf("orchestrator: derive demo shared secret: %w", err)
	}
	return derived.RootKey[:], nil
}

// GenerateConversationKey is a compatibility shim for legacy clients that
// called the source repo's conversation-key endpoint directly rather than
// going through GenerateUserKeys under ModeConversationPFS. It returns the
// same deterministic, non-forward-secret base64 key GenerateUserKeys would
// store, without touching o's key map or storage.
func (o *Orchestrator) GenerateConversationKey(conversationID string) (string, error) {
	o.logger.Printf("warning: GenerateConversationKey called for conversation %s; this is a legacy compatibility shim, not forward-secret", conversationID)
	key, err := demoSharedSecret(conversationID)
	if err != nil {
		return "", err
	}
	return secrand.EncodeB64(key), nil
}

// EncryptMessage encrypts text for conversationID under the active mode
// (spec §4.G encryptMessage).
func (o *Orchestrator) EncryptMessage(conversationID, userID, text string) (framer.Envelope, error) {
	if err := o.requireActive(); err != nil {
		return framer.Envelope{}, err
	}
	mode := o.GetMode()
	var (
		env framer.Envelope
		err error
	)
	switch mode {
	case ModeConversationPFS:
		env, err = o.encryptLegacyConversationPFS(conversationID, userID, text)
	case ModePFS, ModePQC, ModeMultiDevice:
		env, err = o.engine.Encrypt(conversationID, userID, []byte(text))
	default:
		return framer.Envelope{}, ErrUnsupportedMode
	}
	if o.metrics != nil {
		o.metrics.EncryptTotal.WithLabelValues(string(mode), resultLabel(err)).Inc()
	}
	return env, err
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// DecryptMessage decrypts an envelope, dispatching by envelope.metadata.mode
// rather than the orchestrator's current mode, and auto-initializing a
// session with a random passphrase on first receive if the caller lacks
// keys (spec §4.G decryptMessage).
func (o *Orchestrator) DecryptMessage(conversationID, userID string, env framer.Envelope) ([]byte, error) {
	if err := o.requireActive(); err != nil {
		return nil, err
	}

	start := time.Now()
	plaintext, err := o.dispatchDecrypt(conversationID, userID, env)
	if o.metrics != nil {
		o.metrics.DecryptTotal.WithLabelValues(string(env.Metadata.Mode), resultLabel(err)).Inc()
		o.metrics.DecryptLatency.Observe(time.Since(start).Seconds())
	}
	return plaintext, err
}

func (o *Orchestrator) dispatchDecrypt(conversationID, userID string, env framer.Envelope) ([]byte, error) {
	switch env.Metadata.Mode {
	case framer.ModePFS, framer.ModePQC, framer.ModeMultiDevice:
		if !o.engine.HasSession(conversationID, userID) {
			if !o.HasUserKeys(userID) {
				if _, err := o.GenerateUserKeys(userID, ""); err != nil {
					return nil, fmt.Errorf("orchestrator: auto-initialize keys for receive: %w", err)
				}
			}
			if err := o.EnableEncryption(conversationID, userID, false, nil); err != nil {
				return nil, fmt.Errorf("orchestrator: auto-initialize session for receive: %w", err)
			}
		}
		return o.engine.Decrypt(conversationID, userID, env)
	default:
		return o.decryptLegacyConversationPFS(conversationID, userID, env)
	}
}

func (o *Orchestrator) encryptLegacyConversationPFS(conversationID, userID, text string) (framer.Envelope, error) {
	o.keysMu.RLock()
	km, ok := o.keys[userID].(ConversationPFSMaterial)
	o.keysMu.RUnlock()
	if !ok {
		return framer.Envelope{}, ErrNoKeys
	}
	key, err := secrand.DecodeB64(km.Key)
	if err != nil {
		return framer.Envelope{}, fmt.Errorf("orchestrator: decode conversation-pfs key: %w", err)
	}
	return legacyconv.Encrypt(conversationID, userID, key, []byte(text))
}

func (o *Orchestrator) decryptLegacyConversationPFS(conversationID, userID string, env framer.Envelope) ([]byte, error) {
	o.keysMu.RLock()
	km, ok := o.keys[userID].(ConversationPFSMaterial)
	o.keysMu.RUnlock()
	if !ok {
		return nil, ErrNoKeys
	}
	key, err := secrand.DecodeB64(km.Key)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode conversation-pfs key: %w", err)
	}
	return legacyconv.Decrypt(key, env)
}

func randomPassphrase(length int) (string, error) {
	raw, err := secrand.Bytes(length)
	if err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)[:length], nil
}

func unmarshalKeyMaterial(mode EncryptionMode, blob []byte) (KeyMaterial, error) {
	switch mode {
	case ModePFS:
		var m X25519Material
		if err := unmarshalJSON(blob, &m); err != nil {
			return nil, err
		}
		return m, nil
	case ModeConversationPFS:
		var m ConversationPFSMaterial
		if err := unmarshalJSON(blob, &m); err != nil {
			return nil, err
		}
		return m, nil
	case ModePQC:
		var m PQCMaterial
		if err := unmarshalJSON(blob, &m); err != nil {
			return nil, err
		}
		return m, nil
	case ModeMultiDevice:
		var m MultiDeviceMaterial
		if err := unmarshalJSON(blob, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
}

func unmarshalJSON(blob []byte, v interface{}) error {
	return json.Unmarshal(blob, v)
}
