package vault

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillbank/credvault/internal/crypto"
)

func TestServicePingAndStats(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Ping())

	id := storeAPIKey(t, svc, "counted", "production")
	grantRead(t, svc, id, "reader", EntitySkill)
	_, err := svc.Credentials().Retrieve(id, "reader", EntitySkill, RetrieveOptions{})
	require.NoError(t, err)

	stats, err := svc.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Credentials)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Policies)
	assert.Equal(t, 3, stats.AuditRows) // create, grant, retrieve
}

func TestServiceViews(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "viewed", "production")
	grantRead(t, svc, id, "reader", EntitySkill)
	_, err := svc.Credentials().Retrieve(id, "reader", EntitySkill, RetrieveOptions{})
	require.NoError(t, err)

	var policyCount, recentAccess int
	err = svc.db.QueryRow(
		`SELECT policy_count, recent_access_count FROM v_credentials_summary WHERE id = ?`, id,
	).Scan(&policyCount, &recentAccess)
	require.NoError(t, err)
	assert.Equal(t, 1, policyCount)
	assert.Equal(t, 1, recentAccess)

	var recentRows int
	require.NoError(t, svc.db.QueryRow(`SELECT COUNT(*) FROM v_recent_access`).Scan(&recentRows))
	assert.Equal(t, 3, recentRows)

	var expired int
	require.NoError(t, svc.db.QueryRow(`SELECT COUNT(*) FROM v_expired_policies`).Scan(&expired))
	assert.Equal(t, 0, expired)
}

func TestMasterKeyRotation(t *testing.T) {
	svc := newTestService(t)

	keyA := bytes.Repeat([]byte{0xA1}, crypto.MasterKeyLength) // matches newTestService env key
	keyB := bytes.Repeat([]byte{0xB2}, crypto.MasterKeyLength)

	id := storeAPIKey(t, svc, "rotating_master", "production")
	other := storeAPIKey(t, svc, "also_rotating", "production")
	grantRead(t, svc, id, "reader", EntitySkill)
	grantRead(t, svc, other, "reader", EntitySkill)

	n, err := svc.RotateMasterKey(crypto.StaticSource(keyA), crypto.StaticSource(keyB))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Process key still A: the re-encrypted envelopes no longer open.
	_, err = svc.Credentials().Retrieve(id, "reader", EntitySkill, RetrieveOptions{})
	var de *crypto.DecryptionError
	require.True(t, errors.As(err, &de), "retrieve under old key: %v", err)

	// Move the process key to B: everything decrypts again.
	t.Setenv(crypto.MasterKeyEnv, testKeyHex(0xB2))
	cred, err := svc.Credentials().Retrieve(id, "reader", EntitySkill, RetrieveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sk_live_rotating_master", cred.Value.(APIKeyValue).Key)

	// The old master-key record is marked rotated and points forward.
	var status string
	var rotatedTo string
	require.NoError(t, svc.db.QueryRow(
		`SELECT status, COALESCE(rotated_to, '') FROM encryption_keys WHERE status = 'rotated'`,
	).Scan(&status, &rotatedTo))
	assert.NotEmpty(t, rotatedTo)

	// Rotating onto the same key is a no-op.
	n, err = svc.RotateMasterKey(crypto.StaticSource(keyB), crypto.StaticSource(keyB))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMasterKeyRotationWrongOldKeyRollsBack(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "stable", "production")
	grantRead(t, svc, id, "reader", EntitySkill)

	wrong := crypto.StaticSource(bytes.Repeat([]byte{0xEE}, crypto.MasterKeyLength))
	newKey := crypto.StaticSource(bytes.Repeat([]byte{0xB2}, crypto.MasterKeyLength))

	_, err := svc.RotateMasterKey(wrong, newKey)
	require.Error(t, err)

	// Nothing changed: the credential still decrypts under the
	// original process key.
	cred, err := svc.Credentials().Retrieve(id, "reader", EntitySkill, RetrieveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sk_live_stable", cred.Value.(APIKeyValue).Key)
}

func TestOpenWithKDFOverride(t *testing.T) {
	t.Setenv(crypto.MasterKeyEnv, testKeyHex(0xA1))
	// The environment says pbkdf2; the Options override must win.
	t.Setenv(crypto.DefaultKDFEnv, "pbkdf2")

	override := crypto.KDFConfig{
		Type:   crypto.KDFArgon2id,
		Params: crypto.KDFParams{MemoryCost: 8 * 1024, TimeCost: 1, Parallelism: 1},
	}
	svc, err := Open(t.TempDir()+"/kdf.db", Options{KDF: &override})
	require.NoError(t, err)
	defer svc.Close()

	id := storeAPIKey(t, svc, "tuned", "production")

	var envelopeJSON string
	require.NoError(t, svc.db.QueryRow(`SELECT encrypted_value FROM credentials WHERE id = ?`, id).Scan(&envelopeJSON))
	envelope, err := crypto.DecodeEnvelope([]byte(envelopeJSON))
	require.NoError(t, err)
	assert.Equal(t, crypto.KDFArgon2id, envelope.KDFType)
	require.NotNil(t, envelope.KDFParameters)
	assert.Equal(t, uint32(8*1024), envelope.KDFParameters.MemoryCost)

	// Rotation stays on the override too.
	require.NoError(t, svc.Credentials().Rotate(id, APIKeyValue{Key: "again"}))
	require.NoError(t, svc.db.QueryRow(`SELECT encrypted_value FROM credentials WHERE id = ?`, id).Scan(&envelopeJSON))
	envelope, err = crypto.DecodeEnvelope([]byte(envelopeJSON))
	require.NoError(t, err)
	assert.Equal(t, crypto.KDFArgon2id, envelope.KDFType)
}

func TestOpenWithDatabaseKey(t *testing.T) {
	t.Setenv(crypto.MasterKeyEnv, testKeyHex(0xA1))
	t.Setenv(crypto.DefaultKDFEnv, "pbkdf2")

	path := t.TempDir() + "/locked.db"
	svc, err := Open(path, Options{Key: "file-passphrase"})
	require.NoError(t, err)
	storeAPIKey(t, svc, "sealed", "production")
	require.NoError(t, svc.Close())

	// Reopening with the passphrase works.
	svc, err = Open(path, Options{Key: "file-passphrase"})
	require.NoError(t, err)
	count, err := svc.Credentials().Count(ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.NoError(t, svc.Close())

	// The wrong passphrase cannot read the file.
	if svc, err := Open(path, Options{Key: "wrong"}); err == nil {
		svc.Close()
		t.Fatal("opened SQLCipher file with the wrong passphrase")
	}
}
