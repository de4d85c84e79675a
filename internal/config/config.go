// Package config loads the ratchet engine's runtime configuration: which
// app namespace the keystore uses, the default encryption mode, and the
// master passphrase seed used to unlock the OS-secure store on cold start
// — retrieved from HashiCorp Vault when configured, falling back to the
// environment. Grounded on the teacher's internal/config/config.go
// Vault/godotenv/JWTKeyManager pattern, generalized from JWT secret
// rotation to master passphrase rotation.
package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/joho/godotenv"
)

// PassphraseKeyManager holds the current and previous master passphrase
// during a rotation window, mirroring the teacher's dual-key JWT rotation
// so a client mid-rotation can still unlock key material encrypted under
// the previous passphrase.
type PassphraseKeyManager struct {
	currentSecret    string
	previousSecret   string
	rotationTime     time.Time
	rotationInterval time.Duration
	lock             sync.RWMutex
	logger           *log.Logger
}

// VaultClient retrieves the master passphrase from HashiCorp Vault.
type VaultClient struct {
	client     *api.Client
	mountPath  string
	secretPath string
	logger     *log.Logger
}

var (
	keyManager = &PassphraseKeyManager{
		logger: log.New(os.Stdout, "[PASSPHRASE-ROTATION] ", log.Ldate|log.Ltime|log.LUTC),
	}
	vaultClient *VaultClient
)

// InitializeKeyManager sets up the passphrase key manager with the current
// master passphrase.
func InitializeKeyManager(secret string) {
	keyManager.lock.Lock()
	defer keyManager.lock.Unlock()

	keyManager.currentSecret = secret
	keyManager.previousSecret = ""
	keyManager.rotationTime = time.Now()
	keyManager.rotationInterval = 24 * time.Hour
	keyManager.logger.Printf("passphrase key manager initialized, rotation interval: %v", keyManager.rotationInterval)
}

// InitializeVaultClient sets up a HashiCorp Vault client for master
// passphrase retrieval.
func InitializeVaultClient(vaultAddr, token, mountPath, secretPath string) error {
	cfg := &api.Config{Address: vaultAddr}

	client, err := api.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("config: create vault client: %w", err)
	}
	client.SetToken(token)

	if _, err := client.Sys().Health(); err != nil {
		return fmt.Errorf("config: connect to vault: %w", err)
	}

	vaultClient = &VaultClient{
		client:     client,
		mountPath:  mountPath,
		secretPath: secretPath,
		logger:     log.New(os.Stdout, "[VAULT] ", log.Ldate|log.Ltime|log.LUTC),
	}
	vaultClient.logger.Printf("vault client initialized - address: %s, mount: %s, path: %s", vaultAddr, mountPath, secretPath)
	return nil
}

// GetSecretFromVault retrieves a secret field from Vault's KVv2 engine.
func GetSecretFromVault(key string) (string, error) {
	if vaultClient == nil {
		return "", fmt.Errorf("config: vault client not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secret, err := vaultClient.client.KVv2(vaultClient.mountPath).Get(ctx, vaultClient.secretPath)
	if err != nil {
		return "", fmt.Errorf("config: retrieve secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("config: secret not found at %s/%s", vaultClient.mountPath, vaultClient.secretPath)
	}

	value, ok := secret.Data[key].(string)
	if !ok {
		return "", fmt.Errorf("config: secret key %q not found or not a string", key)
	}
	return value, nil
}

// GetMasterPassphraseFromVault retrieves the master passphrase from Vault,
// falling back to the MASTER_PASSPHRASE environment variable.
func GetMasterPassphraseFromVault() (string, error) {
	if vaultClient != nil {
		secret, err := GetSecretFromVault("master_passphrase")
		if err == nil && secret != "" {
			vaultClient.logger.Printf("master passphrase retrieved from vault")
			return secret, nil
		}
		vaultClient.logger.Printf("failed to get master passphrase from vault, falling back to environment: %v", err)
	}

	secret := os.Getenv("MASTER_PASSPHRASE")
	if secret == "" {
		return "", fmt.Errorf("config: MASTER_PASSPHRASE not found in vault or environment")
	}
	return secret, nil
}

// GetCurrentSecret provides thread-safe access to the current passphrase.
func GetCurrentSecret() string {
	keyManager.lock.RLock()
	defer keyManager.lock.RUnlock()
	return keyManager.currentSecret
}

// GetPreviousSecret provides thread-safe access to the previous passphrase.
func GetPreviousSecret() string {
	keyManager.lock.RLock()
	defer keyManager.lock.RUnlock()
	return keyManager.previousSecret
}

// RotateSecret rotates the master passphrase, keeping the old value
// available for a transition period.
func RotateSecret(newSecret string) error {
	if err := ValidatePassphrase(newSecret); err != nil {
		return fmt.Errorf("config: new master passphrase validation failed: %w", err)
	}

	keyManager.lock.Lock()
	defer keyManager.lock.Unlock()

	keyManager.logger.Printf("rotating master passphrase: %s -> %s", previewSecret(keyManager.currentSecret), previewSecret(newSecret))
	keyManager.previousSecret = keyManager.currentSecret
	keyManager.currentSecret = newSecret
	keyManager.rotationTime = time.Now()
	keyManager.logger.Printf("master passphrase rotation complete, previous passphrase accepted during transition")
	return nil
}

// GetAllActiveSecrets returns both current and previous passphrases.
func GetAllActiveSecrets() (current, previous string, hasPrevious bool) {
	keyManager.lock.RLock()
	defer keyManager.lock.RUnlock()
	return keyManager.currentSecret, keyManager.previousSecret, keyManager.previousSecret != ""
}

// SetRotationInterval sets the minimum interval between rotations.
func SetRotationInterval(interval time.Duration) {
	keyManager.lock.Lock()
	defer keyManager.lock.Unlock()
	if interval < 1*time.Hour {
		keyManager.logger.Printf("rotation interval %v too short, using 1 hour minimum", interval)
		interval = 1 * time.Hour
	}
	keyManager.rotationInterval = interval
}

// ShouldRotate reports whether the configured rotation interval has
// elapsed since the last rotation.
func ShouldRotate() bool {
	keyManager.lock.RLock()
	defer keyManager.lock.RUnlock()
	if keyManager.rotationInterval <= 0 {
		return false
	}
	return time.Since(keyManager.rotationTime) >= keyManager.rotationInterval
}

func previewSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// ValidatePassphrase checks that a master passphrase meets minimum length
// and character-diversity requirements.
func ValidatePassphrase(secret string) error {
	if secret == "" {
		return fmt.Errorf("config: master passphrase cannot be empty")
	}
	if len(secret) < 20 {
		return fmt.Errorf("config: master passphrase must be at least 20 characters long")
	}
	unique := make(map[rune]bool)
	for _, r := range secret {
		unique[r] = true
	}
	if len(unique) < 10 {
		return fmt.Errorf("config: master passphrase must contain at least 10 unique characters")
	}
	return nil
}

// loadEnvFiles loads .env, then .env.{NODE_ENV}, then .env.local, in order.
func loadEnvFiles() {
	_ = godotenv.Load()
	if env := os.Getenv("NODE_ENV"); env != "" {
		_ = godotenv.Load(".env." + env)
	}
	_ = godotenv.Load(".env.local")
}

// Config holds the ratchet engine's runtime configuration.
type Config struct {
	AppName          string
	KeyStoreDir      string
	LegacyKeyStoreDir string
	DefaultMode      string
	MasterPassphrase string
	MetricsAddr      string
}

// Load reads configuration from Vault or the environment, in the order:
// .env files, Vault (if VAULT_ADDR/VAULT_TOKEN set), then plain
// environment variables.
func Load() *Config {
	loadEnvFiles()

	vaultAddr := os.Getenv("VAULT_ADDR")
	vaultToken := os.Getenv("VAULT_TOKEN")
	mountPath := getEnv("VAULT_MOUNT_PATH", "secret")
	secretPath := getEnv("VAULT_SECRET_PATH", "secure-ratchet")

	if vaultAddr != "" && vaultToken != "" {
		if err := InitializeVaultClient(vaultAddr, vaultToken, mountPath, secretPath); err != nil {
			log.Printf("warning: failed to initialize vault client: %v", err)
			log.Printf("falling back to environment variables for secrets")
		}
	}

	passphrase, err := GetMasterPassphraseFromVault()
	if err != nil {
		log.Fatalf("FATAL: MASTER_PASSPHRASE not found in vault or environment: %v", err)
	}
	if err := ValidatePassphrase(passphrase); err != nil {
		log.Fatalf("FATAL: master passphrase validation failed: %v", err)
	}
	InitializeKeyManager(passphrase)

	return &Config{
		AppName:           getEnv("APP_NAME", "secure-ratchet"),
		KeyStoreDir:       getEnv("KEYSTORE_DIR", defaultKeystoreDir("secure-ratchet")),
		LegacyKeyStoreDir: getEnv("LEGACY_KEYSTORE_DIR", defaultKeystoreDir("secure-ratchet-legacy")),
		DefaultMode:       getEnv("DEFAULT_MODE", "PFS"),
		MasterPassphrase:  passphrase,
		MetricsAddr:       getEnv("METRICS_ADDR", ":9090"),
	}
}

func defaultKeystoreDir(suffix string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + suffix
	}
	return home + "/." + suffix
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// MustGetEnv retrieves an environment variable or fails the process.
func MustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return value
}
