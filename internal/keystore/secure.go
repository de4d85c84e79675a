// Package keystore provides OS-backed secure storage for passphrases and
// ordinary on-disk storage for encrypted key blobs (spec §4.G "Secure
// passphrase storage"), grounded on actuallydan-pollis's
// internal/keystore/keystore.go 99designs/keyring wrapper.
package keystore

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// ErrNotFound is the sentinel for an absent key. Get does not return it:
// Get reports "absent" as (nil, nil), matching the teacher's convention of
// a non-error empty read.
var ErrNotFound = errors.New("keystore: key not found")

// SecureStore persists passphrases to the OS-provided secure store
// (Keychain, Secret Service, KWallet, Windows Credential Manager), falling
// back to an encrypted file vault when no native backend is available.
type SecureStore struct {
	ring keyring.Keyring
}

// NewSecureStore opens the OS keyring scoped to appName.
func NewSecureStore(appName string) (*SecureStore, error) {
	kr, err := keyring.Open(keyring.Config{
		ServiceName:             appName,
		KeychainName:            appName,
		KWalletAppID:            appName,
		KWalletFolder:           appName,
		WinCredPrefix:           appName,
		LibSecretCollectionName: appName,
		FileDir:                 "~/." + appName + "/secure",
		AllowedBackends: []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.KWalletBackend,
			keyring.FileBackend,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("keystore: open secure store: %w", err)
	}
	return &SecureStore{ring: kr}, nil
}

// Get retrieves a secret; returns (nil, nil) if the key is absent.
func (s *SecureStore) Get(key string) ([]byte, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: secure get: %w", err)
	}
	return item.Data, nil
}

// Set writes a secret under key, overwriting any existing value.
func (s *SecureStore) Set(key string, data []byte) error {
	if err := s.ring.Set(keyring.Item{Key: key, Data: data}); err != nil {
		return fmt.Errorf("keystore: secure set: %w", err)
	}
	return nil
}

// Remove deletes a secret; a missing key is not an error.
func (s *SecureStore) Remove(key string) error {
	if err := s.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("keystore: secure remove: %w", err)
	}
	return nil
}
