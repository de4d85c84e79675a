package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassphraseRejectsShortAndLowEntropySecrets(t *testing.T) {
	assert.Error(t, ValidatePassphrase(""))
	assert.Error(t, ValidatePassphrase("short"))
	assert.Error(t, ValidatePassphrase("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	assert.NoError(t, ValidatePassphrase("correct horse battery staple 42"))
}

func TestRotateSecretKeepsPreviousForTransition(t *testing.T) {
	InitializeKeyManager("first-master-passphrase-000")

	require.NoError(t, RotateSecret("second-master-passphrase-111"))

	current, previous, hasPrevious := GetAllActiveSecrets()
	assert.Equal(t, "second-master-passphrase-111", current)
	assert.Equal(t, "first-master-passphrase-000", previous)
	assert.True(t, hasPrevious)
}

func TestRotateSecretRejectsWeakReplacement(t *testing.T) {
	InitializeKeyManager("first-master-passphrase-000")
	assert.Error(t, RotateSecret("weak"))
}

func TestShouldRotateHonorsInterval(t *testing.T) {
	InitializeKeyManager("first-master-passphrase-000")
	SetRotationInterval(1 * time.Hour)
	assert.False(t, ShouldRotate())

	keyManager.lock.Lock()
	keyManager.rotationTime = time.Now().Add(-2 * time.Hour)
	keyManager.lock.Unlock()
	assert.True(t, ShouldRotate())
}

func TestSetRotationIntervalEnforcesMinimum(t *testing.T) {
	SetRotationInterval(1 * time.Minute)
	keyManager.lock.RLock()
	interval := keyManager.rotationInterval
	keyManager.lock.RUnlock()
	assert.Equal(t, 1*time.Hour, interval)
}

func TestDefaultKeystoreDirIncludesSuffix(t *testing.T) {
	dir := defaultKeystoreDir("secure-ratchet")
	assert.Contains(t, dir, "secure-ratchet")
}

func TestPreviewSecretMasksContent(t *testing.T) {
	assert.Equal(t, "****", previewSecret("short"))
	preview := previewSecret("a-fairly-long-master-passphrase")
	assert.NotContains(t, preview, "fairly-long-master")
}
