package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDFType identifies the key-derivation function recorded in an envelope.
type KDFType string

const (
	KDFPBKDF2   KDFType = "pbkdf2"
	KDFArgon2id KDFType = "argon2id"
)

const (
	// DefaultKDFEnv selects the KDF for newly written envelopes.
	DefaultKDFEnv = "DEFAULT_KDF_TYPE"

	// DerivedKeyLength is the per-record AES-256 key length.
	DerivedKeyLength = 32

	// MinSaltLength is the smallest salt PBKDF2 derivation accepts.
	MinSaltLength = 16

	// DefaultPBKDF2Iterations matches envelopes written before Argon2id
	// support; legacy envelopes with no KDF metadata decrypt under it.
	DefaultPBKDF2Iterations = 100000

	// Argon2id defaults per RFC 9106 second recommendation.
	DefaultArgon2Memory      = 64 * 1024 // KiB
	DefaultArgon2Time        = 3
	DefaultArgon2Parallelism = 4
)

// KDFParams carries the tunable parameters embedded in an envelope.
// PBKDF2 uses Iterations and Hash; Argon2id uses MemoryCost (KiB),
// TimeCost and Parallelism.
type KDFParams struct {
	Iterations  int    `json:"iterations,omitempty"`
	Hash        string `json:"hash,omitempty"`
	MemoryCost  uint32 `json:"memoryCost,omitempty"`
	TimeCost    uint32 `json:"timeCost,omitempty"`
	Parallelism uint8  `json:"parallelism,omitempty"`
}

// KDFConfig pairs a KDF type with its parameters.
type KDFConfig struct {
	Type   KDFType
	Params KDFParams
}

// PBKDF2Defaults returns the legacy-compatible PBKDF2 configuration.
func PBKDF2Defaults() KDFConfig {
	return KDFConfig{
		Type:   KDFPBKDF2,
		Params: KDFParams{Iterations: DefaultPBKDF2Iterations, Hash: "sha256"},
	}
}

// Argon2idDefaults returns the default Argon2id configuration.
func Argon2idDefaults() KDFConfig {
	return KDFConfig{
		Type: KDFArgon2id,
		Params: KDFParams{
			MemoryCost:  DefaultArgon2Memory,
			TimeCost:    DefaultArgon2Time,
			Parallelism: DefaultArgon2Parallelism,
		},
	}
}

// DefaultKDF returns the configuration used for new envelopes. The
// DEFAULT_KDF_TYPE environment variable overrides; unset or invalid
// values fall back to Argon2id.
func DefaultKDF() KDFConfig {
	switch KDFType(os.Getenv(DefaultKDFEnv)) {
	case KDFPBKDF2:
		return PBKDF2Defaults()
	case KDFArgon2id:
		return Argon2idDefaults()
	default:
		return Argon2idDefaults()
	}
}

// DeriveKey derives a 32-byte per-record key from the master key and
// salt under the given configuration. Unset parameters take the
// defaults for the configured type.
func DeriveKey(masterKey, salt []byte, cfg KDFConfig) ([]byte, error) {
	switch cfg.Type {
	case KDFPBKDF2, "":
		return derivePBKDF2(masterKey, salt, cfg.Params)
	case KDFArgon2id:
		return deriveArgon2id(masterKey, salt, cfg.Params), nil
	default:
		return nil, &EncryptionError{Reason: ReasonCipherFailure, Err: fmt.Errorf("unknown KDF type %q", cfg.Type)}
	}
}

func derivePBKDF2(masterKey, salt []byte, p KDFParams) ([]byte, error) {
	if len(salt) < MinSaltLength {
		return nil, &EncryptionError{Reason: ReasonCipherFailure, Err: fmt.Errorf("salt too short: got %d bytes, want >= %d", len(salt), MinSaltLength)}
	}

	iterations := p.Iterations
	if iterations <= 0 {
		iterations = DefaultPBKDF2Iterations
	}

	var h func() hash.Hash
	switch p.Hash {
	case "", "sha256":
		h = sha256.New
	case "sha512":
		h = sha512.New
	default:
		return nil, &EncryptionError{Reason: ReasonCipherFailure, Err: fmt.Errorf("unsupported PBKDF2 hash %q", p.Hash)}
	}

	return pbkdf2.Key(masterKey, salt, iterations, DerivedKeyLength, h), nil
}

func deriveArgon2id(masterKey, salt []byte, p KDFParams) []byte {
	memory := p.MemoryCost
	if memory == 0 {
		memory = DefaultArgon2Memory
	}
	time := p.TimeCost
	if time == 0 {
		time = DefaultArgon2Time
	}
	parallelism := p.Parallelism
	if parallelism == 0 {
		parallelism = DefaultArgon2Parallelism
	}
	return argon2.IDKey(masterKey, salt, time, memory, parallelism, DerivedKeyLength)
}

// ShouldUpgrade reports whether an envelope under the current KDF should
// be re-encrypted under the target at its next rotation. Only the
// pbkdf2 -> argon2id edge upgrades.
func ShouldUpgrade(current, target KDFType) bool {
	return current == KDFPBKDF2 && target == KDFArgon2id
}
