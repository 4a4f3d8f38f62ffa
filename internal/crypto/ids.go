package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Identifier prefixes. IDs are opaque strings: a typed prefix, the
// minting time in milliseconds, and 64 bits of randomness. Uniqueness
// comes from the random suffix; within-millisecond collisions surface
// as unique-constraint violations on insert.
const (
	CredentialIDPrefix = "cred"
	PolicyIDPrefix     = "policy"
	AuditIDPrefix      = "audit"
	KeyIDPrefix        = "key"
)

// NewCredentialID mints a cred_<ms>_<16 hex> identifier.
func NewCredentialID() string { return mintID(CredentialIDPrefix) }

// NewPolicyID mints a policy_<ms>_<16 hex> identifier.
func NewPolicyID() string { return mintID(PolicyIDPrefix) }

// NewAuditID mints an audit_<ms>_<16 hex> identifier.
func NewAuditID() string { return mintID(AuditIDPrefix) }

// NewKeyID mints a key_<ms> identifier for master-key records. Key
// records are deduplicated by key hash, so the timestamp alone is
// enough.
func NewKeyID() string {
	return fmt.Sprintf("%s_%d", KeyIDPrefix, time.Now().UnixMilli())
}

func mintID(prefix string) string {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand failing means the platform RNG is broken; there
		// is no usable fallback for a secret store.
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(suffix))
}
