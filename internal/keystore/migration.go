package keystore

import "fmt"

// LegacyPlaintextStore models the source repo's pre-migration plaintext
// passphrase storage (spec §4.G "a one-time migration from the legacy
// plaintext store is performed on first read"). It is a thin OrdinaryStore
// alias: the only thing that makes it "legacy" is that callers must never
// write new passphrases here, only migrate away from it.
type LegacyPlaintextStore struct {
	store *OrdinaryStore
}

// NewLegacyPlaintextStore opens the legacy plaintext directory.
func NewLegacyPlaintextStore(baseDir string) (*LegacyPlaintextStore, error) {
	store, err := NewOrdinaryStore(baseDir)
	if err != nil {
		return nil, err
	}
	return &LegacyPlaintextStore{store: store}, nil
}

// MigrateToSecure reads key from the legacy plaintext store and, if
// present and the secure store doesn't already hold a value, copies it
// into secure and deletes the legacy copy. Returns true iff a migration
// actually occurred.
//
// loadUserKeys and areStoredKeysValid must both route through this same
// function so they observe identical post-migration state — calling one
// without the other produces the false positives the spec warns about.
func MigrateToSecure(secure *SecureStore, legacy *LegacyPlaintextStore, key string) (migrated bool, err error) {
	existing, err := secure.Get(key)
	if err != nil {
		return false, fmt.Errorf("keystore: migrate check secure: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	legacyValue, err := legacy.store.Get(key)
	if err != nil {
		return false, fmt.Errorf("keystore: migrate read legacy: %w", err)
	}
	if legacyValue == nil {
		return false, nil
	}

	if err := secure.Set(key, legacyValue); err != nil {
		return false, fmt.Errorf("keystore: migrate write secure: %w", err)
	}
	if err := legacy.store.Remove(key); err != nil {
		return false, fmt.Errorf("keystore: migrate remove legacy: %w", err)
	}
	return true, nil
}

// LoadPassphrase retrieves a passphrase by key, performing the one-time
// legacy migration first if needed, then reading from secure storage. This
// is the single path both loadUserKeys and areStoredKeysValid must use.
func LoadPassphrase(secure *SecureStore, legacy *LegacyPlaintextStore, key string) ([]byte, error) {
	if _, err := MigrateToSecure(secure, legacy, key); err != nil {
		return nil, err
	}
	return secure.Get(key)
}
