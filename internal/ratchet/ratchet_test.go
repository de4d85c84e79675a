package ratchet

import (
	"fmt"
	"testing"

	"github.com/jaydenbeard/secure-ratchet/internal/framer"
	"github.com/jaydenbeard/secure-ratchet/internal/secrand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairedEngines(t *testing.T) (alice, bob *Engine) {
	t.Helper()
	sharedSecret := make([]byte, 32)
	for i := range sharedSecret {
		sharedSecret[i] = byte(i)
	}

	bob = NewEngine(nil)
	require.NoError(t, bob.InitializeRatchet("conv-1", "bob", sharedSecret, false, nil, framer.ModePFS))
	bobPub, err := bob.SessionRatchetPublicKey("conv-1", "bob")
	require.NoError(t, err)

	alice = NewEngine(nil)
	require.NoError(t, alice.InitializeRatchet("conv-1", "alice", sharedSecret, true, bobPub, framer.ModePFS))

	return alice, bob
}

func TestRoundTripBasic(t *testing.T) {
	alice, bob := pairedEngines(t)

	env, err := alice.Encrypt("conv-1", "alice", []byte("hello bob"))
	require.NoError(t, err)

	plaintext, err := bob.Decrypt("conv-1", "bob", env)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(plaintext))
}

func TestRoundTripBidirectional(t *testing.T) {
	alice, bob := pairedEngines(t)

	env1, err := alice.Encrypt("conv-1", "alice", []byte("first"))
	require.NoError(t, err)
	pt1, err := bob.Decrypt("conv-1", "bob", env1)
	require.NoError(t, err)
	assert.Equal(t, "first", string(pt1))

	env2, err := bob.Encrypt("conv-1", "bob", []byte("reply"))
	require.NoError(t, err)
	pt2, err := alice.Decrypt("conv-1", "alice", env2)
	require.NoError(t, err)
	assert.Equal(t, "reply", string(pt2))

	env3, err := alice.Encrypt("conv-1", "alice", []byte("second"))
	require.NoError(t, err)
	pt3, err := bob.Decrypt("conv-1", "bob", env3)
	require.NoError(t, err)
	assert.Equal(t, "second", string(pt3))
}

func TestSessionMissing(t *testing.T) {
	engine := NewEngine(nil)
	_, err := engine.Encrypt("conv-x", "nobody", []byte("hi"))
	assert.ErrorIs(t, err, ErrSessionMissing)
}

// TestOutOfOrderDelivery matches spec scenario 2: alice sends five messages,
// bob decrypts them in reverse order, and all five recover their originals.
func TestOutOfOrderDelivery(t *testing.T) {
	alice, bob := pairedEngines(t)

	var envs []framer.Envelope
	var plaintexts []string
	for i := 0; i < 5; i++ {
		msg := fmt.Sprintf("Message %d", i+1)
		env, err := alice.Encrypt("conv-1", "alice", []byte(msg))
		require.NoError(t, err)
		envs = append(envs, env)
		plaintexts = append(plaintexts, msg)
	}

	for i := 4; i >= 0; i-- {
		pt, err := bob.Decrypt("conv-1", "bob", envs[i])
		require.NoError(t, err)
		assert.Equal(t, plaintexts[i], string(pt))
	}
}

// TestSkipLimitRefusal matches spec scenario 3: alice sends far more
// messages than MAX_SKIP without bob ever receiving, then bob attempts the
// most recent one; the engine must refuse with ErrTooManySkipped.
func TestSkipLimitRefusal(t *testing.T) {
	alice, bob := pairedEngines(t)

	var last framer.Envelope
	for i := 0; i < MaxSkip+500; i++ {
		env, err := alice.Encrypt("conv-1", "alice", []byte("spam"))
		require.NoError(t, err)
		last = env
	}

	_, err := bob.Decrypt("conv-1", "bob", last)
	assert.ErrorIs(t, err, ErrTooManySkipped)
}

func TestTamperDetection(t *testing.T) {
	alice, bob := pairedEngines(t)

	env, err := alice.Encrypt("conv-1", "alice", []byte("integrity"))
	require.NoError(t, err)

	env.EncryptedText = env.EncryptedText[:len(env.EncryptedText)-2] + "AA"

	_, err = bob.Decrypt("conv-1", "bob", env)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestTamperedTagDetected(t *testing.T) {
	alice, bob := pairedEngines(t)

	env, err := alice.Encrypt("conv-1", "alice", []byte("integrity"))
	require.NoError(t, err)

	env.Tag = env.Tag[:len(env.Tag)-2] + "BB"

	_, err = bob.Decrypt("conv-1", "bob", env)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestWeakPublicKeyRejected(t *testing.T) {
	alice, bob := pairedEngines(t)

	env, err := alice.Encrypt("conv-1", "alice", []byte("hi"))
	require.NoError(t, err)

	zero := make([]byte, 32)
	env.Metadata.EphemeralPublicKey = secrand.EncodeB64(zero)

	_, err = bob.Decrypt("conv-1", "bob", env)
	assert.ErrorIs(t, err, ErrWeakPublicKey)
}

func TestRatchetAdvancesRootAcrossTurns(t *testing.T) {
	alice, bob := pairedEngines(t)

	env1, err := alice.Encrypt("conv-1", "alice", []byte("turn one"))
	require.NoError(t, err)
	_, err = bob.Decrypt("conv-1", "bob", env1)
	require.NoError(t, err)

	// bob replies, forcing a DH ratchet step on alice's next receive.
	reply, err := bob.Encrypt("conv-1", "bob", []byte("turn two"))
	require.NoError(t, err)

	alice.mu.RLock()
	s := alice.sessions[SessionID{ConversationID: "conv-1", UserID: "alice"}]
	alice.mu.RUnlock()
	rootBefore := s.rootKey

	_, err = alice.Decrypt("conv-1", "alice", reply)
	require.NoError(t, err)

	assert.NotEqual(t, rootBefore, s.rootKey)
	assert.NotNil(t, s.remoteRatchetPublicKey)
}
