package orchestrator

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaydenbeard/secure-ratchet/internal/enginemetrics"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	metrics := enginemetrics.New(prometheus.NewRegistry())
	o, err := New(t.Name(), t.TempDir(), t.TempDir(), metrics)
	require.NoError(t, err)
	t.Cleanup(o.Destroy)
	return o
}

func TestPFSRoundTrip(t *testing.T) {
	alice := newTestOrchestrator(t)
	bob := newTestOrchestrator(t)

	require.NoError(t, alice.SetMode(ModePFS))
	require.NoError(t, bob.SetMode(ModePFS))

	_, err := alice.GenerateUserKeys("alice", "")
	require.NoError(t, err)
	_, err = bob.GenerateUserKeys("bob", "")
	require.NoError(t, err)

	require.NoError(t, bob.EnableEncryption("conv-1", "bob", false, nil))
	bobPub, err := bob.engine.SessionRatchetPublicKey("conv-1", "bob")
	require.NoError(t, err)

	require.NoError(t, alice.EnableEncryption("conv-1", "alice", true, bobPub))

	env, err := alice.EncryptMessage("conv-1", "alice", "hello bob")
	require.NoError(t, err)

	plaintext, err := bob.DecryptMessage("conv-1", "bob", env)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(plaintext))
}

func TestMultiDeviceRoundTripUsesSharedSenderID(t *testing.T) {
	alice := newTestOrchestrator(t)
	bob := newTestOrchestrator(t)

	require.NoError(t, alice.SetMode(ModeMultiDevice))
	require.NoError(t, bob.SetMode(ModeMultiDevice))

	_, err := alice.GenerateUserKeys("alice", "")
	require.NoError(t, err)
	_, err = bob.GenerateUserKeys("bob", "")
	require.NoError(t, err)

	require.NoError(t, bob.EnableEncryption("conv-multi", "bob", false, nil))
	bobPub, err := bob.engine.SessionRatchetPublicKey("conv-multi", "bob")
	require.NoError(t, err)
	require.NoError(t, alice.EnableEncryption("conv-multi", "alice", true, bobPub))

	env, err := alice.EncryptMessage("conv-multi", "alice", "hello devices")
	require.NoError(t, err)
	assert.Equal(t, "MULTI_DEVICE", string(env.Metadata.Mode))
	assert.Equal(t, "MULTI_DEVICE-conv-multi", env.KeyID)
	assert.Equal(t, "shared-multi-conv-multi", env.Metadata.SenderID)

	plaintext, err := bob.DecryptMessage("conv-multi", "bob", env)
	require.NoError(t, err)
	assert.Equal(t, "hello devices", string(plaintext))
}

func TestDecryptAutoInitializesSession(t *testing.T) {
	alice := newTestOrchestrator(t)
	bob := newTestOrchestrator(t)
	require.NoError(t, alice.SetMode(ModePFS))
	require.NoError(t, bob.SetMode(ModePFS))

	_, err := alice.GenerateUserKeys("alice", "")
	require.NoError(t, err)
	require.NoError(t, alice.EnableEncryption("conv-2", "alice", true, nil))

	env, err := alice.EncryptMessage("conv-2", "alice", "first contact")
	require.NoError(t, err)

	assert.False(t, bob.HasUserKeys("bob"))
	plaintext, err := bob.DecryptMessage("conv-2", "bob", env)
	require.NoError(t, err)
	assert.Equal(t, "first contact", string(plaintext))
	assert.True(t, bob.HasUserKeys("bob"))
}

func TestConversationPFSRoundTrip(t *testing.T) {
	alice := newTestOrchestrator(t)
	bob := newTestOrchestrator(t)
	require.NoError(t, alice.SetMode(ModeConversationPFS))
	require.NoError(t, bob.SetMode(ModeConversationPFS))

	_, err := alice.GenerateUserKeys("conv-legacy", "")
	require.NoError(t, err)
	_, err = bob.GenerateUserKeys("conv-legacy", "")
	require.NoError(t, err)

	env, err := alice.EncryptMessage("conv-legacy", "conv-legacy", "legacy hello")
	require.NoError(t, err)

	plaintext, err := bob.DecryptMessage("conv-legacy", "conv-legacy", env)
	require.NoError(t, err)
	assert.Equal(t, "legacy hello", string(plaintext))
}

func TestSetModeClearsKeysOnChange(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.SetMode(ModePFS))
	_, err := o.GenerateUserKeys("alice", "")
	require.NoError(t, err)
	assert.True(t, o.HasUserKeys("alice"))

	require.NoError(t, o.SetMode(ModePQC))
	assert.False(t, o.HasUserKeys("alice"))
}

func TestAreStoredKeysValidWipesOnFailure(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.SetMode(ModePFS))
	assert.False(t, o.AreStoredKeysValid("nobody"))
	assert.False(t, o.HasUserKeys("nobody"))
}

func TestRemoveKeysDeletesFromStorage(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.SetMode(ModePFS))
	_, err := o.GenerateUserKeys("alice", "")
	require.NoError(t, err)

	require.NoError(t, o.RemoveKeys("alice"))
	assert.False(t, o.HasUserKeys("alice"))

	loaded, err := o.LoadUserKeys("alice", "")
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestDestroyIsIdempotentAndBlocksFurtherUse(t *testing.T) {
	o := newTestOrchestrator(t)
	o.Destroy()
	o.Destroy()

	_, err := o.GenerateUserKeys("alice", "")
	assert.ErrorIs(t, err, ErrAlreadyDestroyed)
}

func TestGetEncryptionStatus(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.SetMode(ModePFS))
	_, err := o.GenerateUserKeys("alice", "")
	require.NoError(t, err)
	require.NoError(t, o.EnableEncryption("conv-3", "alice", true, nil))

	status := o.GetEncryptionStatus("conv-3", "alice")
	assert.Equal(t, ModePFS, status.Mode)
	assert.True(t, status.HasKeys)
	assert.True(t, status.IsEnabled)
}
