package vault

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/skillbank/credvault/internal/crypto"
)

// Tests default to PBKDF2 derivation to keep each encrypt/decrypt fast;
// the Argon2id path is covered by the crypto package and the KDF
// migration test.
func newTestService(t *testing.T) *Service {
	t.Helper()
	t.Setenv(crypto.MasterKeyEnv, testKeyHex(0xA1))
	t.Setenv(crypto.DefaultKDFEnv, "pbkdf2")

	path := filepath.Join(t.TempDir(), "vault.db")
	svc, err := Open(path, Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func testKeyHex(b byte) string {
	return hex.EncodeToString(bytes.Repeat([]byte{b}, crypto.MasterKeyLength))
}

// storeAPIKey stores a minimal api_key credential and returns its id.
func storeAPIKey(t *testing.T, svc *Service, name, environment string) string {
	t.Helper()
	id, err := svc.Credentials().Store(name, TypeAPIKey, "stripe", APIKeyValue{Key: "sk_live_" + name}, StoreOptions{
		Environment: environment,
	})
	if err != nil {
		t.Fatalf("Store(%s/%s): %v", environment, name, err)
	}
	return id
}

// grantRead grants entity read access to a credential.
func grantRead(t *testing.T, svc *Service, credentialID, entityID string, entityType EntityType) {
	t.Helper()
	if _, err := svc.Access().GrantAccess(credentialID, entityID, entityType, GrantOptions{}); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
}

// auditCount counts audit rows, optionally filtered by action.
func auditCount(t *testing.T, svc *Service, credentialID string, action Action) int {
	t.Helper()
	query := `SELECT COUNT(*) FROM audit_log WHERE credential_id = ?`
	args := []any{credentialID}
	if action != "" {
		query += ` AND action = ?`
		args = append(args, string(action))
	}
	var n int
	if err := svc.db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("audit count: %v", err)
	}
	return n
}
