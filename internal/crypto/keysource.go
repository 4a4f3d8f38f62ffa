package crypto

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// MasterKeyEnv is the environment variable holding the master key as
	// 64 hex characters (32 bytes).
	MasterKeyEnv = "MASTER_ENCRYPTION_KEY"

	// MasterKeyLength is the required decoded key length for AES-256.
	MasterKeyLength = 32
)

// MasterKeySource supplies the 32-byte master key for encrypt and decrypt
// operations. Implementations must not cache key material across calls;
// callers must not retain the returned buffer beyond a single operation.
type MasterKeySource interface {
	MasterKey() ([]byte, error)
}

// EnvSource reads the master key from an environment variable on every
// call. Re-reading is deliberate: it keeps the source honest when the
// process environment changes under test harnesses.
type EnvSource struct {
	Var string
}

// NewEnvSource returns an EnvSource bound to MASTER_ENCRYPTION_KEY.
func NewEnvSource() *EnvSource {
	return &EnvSource{Var: MasterKeyEnv}
}

func (s *EnvSource) MasterKey() ([]byte, error) {
	raw := os.Getenv(s.Var)
	if raw == "" {
		return nil, &EncryptionError{Reason: ReasonMissingKey, Err: fmt.Errorf("%s is not set", s.Var)}
	}
	return decodeMasterKey(raw)
}

// StaticSource serves a fixed key. Used by the master-key rotation path
// and by tests; never persisted.
type StaticSource []byte

func (s StaticSource) MasterKey() ([]byte, error) {
	if len(s) != MasterKeyLength {
		return nil, &EncryptionError{Reason: ReasonBadKeyLength, Err: fmt.Errorf("got %d bytes, want %d", len(s), MasterKeyLength)}
	}
	key := make([]byte, MasterKeyLength)
	copy(key, s)
	return key, nil
}

// KeyringSource loads the master key from the OS keychain (Windows
// Credential Manager, macOS Keychain, Linux Secret Service). The stored
// value uses the same 64-hex-character encoding as the environment.
type KeyringSource struct {
	Service string
	User    string
}

func (s *KeyringSource) MasterKey() ([]byte, error) {
	raw, err := keyring.Get(s.Service, s.User)
	if err != nil {
		return nil, &EncryptionError{Reason: ReasonMissingKey, Err: fmt.Errorf("keychain lookup: %w", err)}
	}
	return decodeMasterKey(raw)
}

// Store writes a hex-encoded master key into the OS keychain.
func (s *KeyringSource) Store(hexKey string) error {
	if _, err := decodeMasterKey(hexKey); err != nil {
		return err
	}
	return keyring.Set(s.Service, s.User, hexKey)
}

// Delete removes the key from the OS keychain.
func (s *KeyringSource) Delete() error {
	err := keyring.Delete(s.Service, s.User)
	if err != nil && err != keyring.ErrNotFound {
		return err
	}
	return nil
}

func decodeMasterKey(raw string) ([]byte, error) {
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, &EncryptionError{Reason: ReasonBadKeyLength, Err: fmt.Errorf("master key is not valid hex: %w", err)}
	}
	if len(key) != MasterKeyLength {
		ClearBytes(key)
		return nil, &EncryptionError{Reason: ReasonBadKeyLength, Err: fmt.Errorf("got %d bytes, want %d", len(key), MasterKeyLength)}
	}
	return key, nil
}
