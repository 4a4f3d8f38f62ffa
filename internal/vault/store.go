package vault

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/skillbank/credvault/internal/crypto"
)

// revokedReasonKey is where Revoke merges its reason into credential
// metadata.
const revokedReasonKey = "revokedReason"

const credentialColumns = `c.id, c.name, c.environment, c.type, c.service, c.encryption_key_id, c.metadata, c.created_at, c.updated_at, c.last_rotated_at, c.status`

// CredentialStore owns the credentials and encryption_keys tables and
// the credential lifecycle: store, retrieve, rotate, revoke, delete.
type CredentialStore struct {
	db         *sql.DB
	cipher     *crypto.Cipher
	access     *AccessController
	audit      *AuditLogger
	log        zerolog.Logger
	defaultKDF *crypto.KDFConfig
}

// NewCredentialStore wires the store against its collaborators.
// defaultKDF overrides the environment-driven KDF selection for new
// envelopes; nil defers to crypto.DefaultKDF.
func NewCredentialStore(db *sql.DB, cipher *crypto.Cipher, access *AccessController, audit *AuditLogger, logger zerolog.Logger, defaultKDF *crypto.KDFConfig) *CredentialStore {
	return &CredentialStore{db: db, cipher: cipher, access: access, audit: audit, log: logger, defaultKDF: defaultKDF}
}

// encryptionConfig resolves the KDF for new envelopes: the configured
// override if set, else the DEFAULT_KDF_TYPE environment selection.
func (s *CredentialStore) encryptionConfig() crypto.KDFConfig {
	if s.defaultKDF != nil {
		return *s.defaultKDF
	}
	return crypto.DefaultKDF()
}

// StoreOptions carries the optional fields of a store call.
type StoreOptions struct {
	Environment string
	Metadata    map[string]any
	// KDF overrides the default key-derivation configuration for this
	// record only.
	KDF *crypto.KDFConfig
}

// Store encrypts value and inserts a new credential. The insert, the
// idempotent master-key record upsert, and the audit entry commit in
// one transaction; any failure rolls back all three. A duplicate
// (name, environment) surfaces as a ConflictError.
func (s *CredentialStore) Store(name string, typ CredentialType, service string, value CredentialValue, opts StoreOptions) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidValue)
	}
	if !typ.Valid() {
		return "", fmt.Errorf("%w: unknown credential type %q", ErrInvalidValue, typ)
	}
	if value == nil {
		return "", fmt.Errorf("%w: value is required", ErrInvalidValue)
	}
	if value.CredentialType() != typ {
		return "", fmt.Errorf("%w: value is %s, declared type is %s", ErrInvalidValue, value.CredentialType(), typ)
	}

	environment := opts.Environment
	if environment == "" {
		environment = "production"
	}

	plaintext, err := EncodeValue(value)
	if err != nil {
		return "", err
	}
	defer crypto.ClearBytes(plaintext)

	cfg := s.encryptionConfig()
	if opts.KDF != nil {
		cfg = *opts.KDF
	}
	envelope, err := s.cipher.EncryptWith(plaintext, cfg)
	if err != nil {
		return "", err
	}
	envelopeJSON, err := crypto.EncodeEnvelope(envelope)
	if err != nil {
		return "", err
	}

	keyHash, err := s.cipher.KeyHash()
	if err != nil {
		return "", err
	}

	var metaJSON any
	if len(opts.Metadata) > 0 {
		b, err := json.Marshal(opts.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = string(b)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	keyID, err := ensureKeyRecord(tx, keyHash)
	if err != nil {
		return "", err
	}

	id := crypto.NewCredentialID()
	now := formatTime(time.Now())
	_, err = tx.Exec(
		`INSERT INTO credentials (id, name, environment, type, service, encrypted_value, encryption_key_id, metadata, created_at, updated_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active')`,
		id, name, environment, string(typ), service, string(envelopeJSON), keyID, metaJSON, now, now,
	)
	if isUniqueViolation(err) {
		return "", &ConflictError{Name: name, Environment: environment}
	}
	if err != nil {
		return "", err
	}

	if err := s.audit.logTx(tx, id, "system", EntityTool, ActionCreate, true, LogOptions{}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// RetrieveOptions carries attribution for the audit trail.
type RetrieveOptions struct {
	UserID    string
	IPAddress string
}

// Retrieve is the authoritative read path: policy check, row load,
// decrypt, audit. For an existing credential exactly one audit row is
// written per call, on every code path, success or failure. For an id
// with no credential row the audit insert fails its foreign key; the
// failure goes to the error sink and no row is written.
func (s *CredentialStore) Retrieve(credentialID, entityID string, entityType EntityType, opts RetrieveOptions) (*DecryptedCredential, error) {
	auditOpts := LogOptions{UserID: opts.UserID, IPAddress: opts.IPAddress}

	if err := s.access.AssertAccess(credentialID, entityID, entityType, LevelRead); err != nil {
		var denied *AccessDeniedError
		if errors.As(err, &denied) {
			auditOpts.ErrorMessage = denied.Reason
			s.audit.Log(credentialID, entityID, entityType, ActionRetrieve, false, auditOpts)
			// A revoked or rotated credential is invisible to
			// retrieval, not merely forbidden.
			if denied.Reason == DenialCredentialRevoked {
				return nil, &CredentialNotFoundError{ID: credentialID}
			}
		}
		return nil, err
	}

	cred, envelopeJSON, err := s.loadActive(credentialID)
	if err != nil {
		auditOpts.ErrorMessage = err.Error()
		s.audit.Log(credentialID, entityID, entityType, ActionRetrieve, false, auditOpts)
		return nil, err
	}

	value, err := s.decryptValue(cred.Type, envelopeJSON)
	if err != nil {
		if crypto.IsTampered(err) {
			auditOpts.ErrorMessage = "decryption failed: data tampered"
		} else {
			auditOpts.ErrorMessage = err.Error()
		}
		s.audit.Log(credentialID, entityID, entityType, ActionRetrieve, false, auditOpts)
		return nil, err
	}

	s.audit.Log(credentialID, entityID, entityType, ActionRetrieve, true, auditOpts)
	return &DecryptedCredential{Credential: *cred, Value: value}, nil
}

// retrieveUnchecked bypasses the policy check and writes no audit
// entry. It is the rotation back-door: Rotate uses it to confirm the
// record exists and still decrypts before replacing its value, and
// logs at its own layer. It must never be reachable across a trust
// boundary.
func (s *CredentialStore) retrieveUnchecked(credentialID string) (*DecryptedCredential, *crypto.Envelope, error) {
	cred, envelopeJSON, err := s.loadActive(credentialID)
	if err != nil {
		return nil, nil, err
	}
	envelope, err := crypto.DecodeEnvelope([]byte(envelopeJSON))
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := s.cipher.Decrypt(envelope)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.ClearBytes(plaintext)
	value, err := DecodeValue(cred.Type, plaintext)
	if err != nil {
		return nil, nil, err
	}
	return &DecryptedCredential{Credential: *cred, Value: value}, envelope, nil
}

// ListFilter narrows metadata queries. Zero values are ignored.
type ListFilter struct {
	Service     string
	Type        CredentialType
	Environment string
	Status      CredentialStatus
}

// List returns credential metadata matching the filter. Envelopes are
// never returned.
func (s *CredentialStore) List(filter ListFilter) ([]Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials c WHERE 1=1`
	var args []any
	if filter.Service != "" {
		query += ` AND c.service = ?`
		args = append(args, filter.Service)
	}
	if filter.Type != "" {
		query += ` AND c.type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Environment != "" {
		query += ` AND c.environment = ?`
		args = append(args, filter.Environment)
	}
	if filter.Status != "" {
		query += ` AND c.status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY c.name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// Rotate replaces a credential's value. The old record is read through
// the unchecked path (policy does not apply to in-process rotation);
// the new envelope is written under the current default KDF, so
// rotation doubles as the KDF upgrade path for records stored under
// PBKDF2.
func (s *CredentialStore) Rotate(credentialID string, newValue CredentialValue) error {
	cred, old, err := s.retrieveUnchecked(credentialID)
	if err != nil {
		return err
	}
	if newValue == nil || newValue.CredentialType() != cred.Type {
		return fmt.Errorf("%w: rotation value must be %s", ErrInvalidValue, cred.Type)
	}

	cfg := s.encryptionConfig()
	auditOpts := LogOptions{}
	if crypto.ShouldUpgrade(old.KDFConfig().Type, cfg.Type) {
		auditOpts.Metadata = map[string]any{"kdf_upgraded_to": string(cfg.Type)}
	}

	plaintext, err := EncodeValue(newValue)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(plaintext)

	envelope, err := s.cipher.EncryptWith(plaintext, cfg)
	if err != nil {
		return err
	}
	newJSON, err := crypto.EncodeEnvelope(envelope)
	if err != nil {
		return err
	}

	now := formatTime(time.Now())
	_, err = s.db.Exec(
		`UPDATE credentials SET encrypted_value = ?, updated_at = ?, last_rotated_at = ? WHERE id = ?`,
		string(newJSON), now, now, credentialID,
	)
	if err != nil {
		return err
	}

	s.audit.Log(credentialID, "system", EntityTool, ActionRotate, true, auditOpts)
	return nil
}

// Revoke soft-deletes: status becomes revoked and the reason is merged
// into metadata. Policies are left in place; callers wanting full
// lockout also call RevokeAllAccess.
func (s *CredentialStore) Revoke(credentialID, reason string) error {
	cred, _, err := s.loadAny(credentialID)
	if err != nil {
		return err
	}

	meta := cred.Metadata
	if meta == nil {
		meta = make(map[string]any)
	}
	if reason != "" {
		meta[revokedReasonKey] = reason
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE credentials SET status = 'revoked', metadata = ?, updated_at = ? WHERE id = ?`,
		string(metaJSON), formatTime(time.Now()), credentialID,
	)
	if err != nil {
		return err
	}

	s.audit.Log(credentialID, "system", EntityTool, ActionRevoke, true, LogOptions{
		Metadata: map[string]any{"reason": reason},
	})
	return nil
}

// Delete hard-removes the credential. Policies and audit rows cascade;
// reserve this for erasure requests, since it destroys forensic
// history with the record.
func (s *CredentialStore) Delete(credentialID string) error {
	if _, _, err := s.loadAny(credentialID); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The delete event is written first so it shares the transaction,
	// then cascades away with the rest of the credential's audit rows.
	// The zerolog record below is the surviving operational trace.
	if err := s.audit.logTx(tx, credentialID, "system", EntityTool, ActionDelete, true, LogOptions{}); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM credentials WHERE id = ?`, credentialID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.log.Info().Str("credential_id", credentialID).Msg("credential hard-deleted")
	return nil
}

// IsValid reports whether the credential exists with status active.
func (s *CredentialStore) IsValid(credentialID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM credentials WHERE id = ? AND status = 'active'`, credentialID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByName looks a credential up by its unique (name, environment)
// pair. Metadata only.
func (s *CredentialStore) GetByName(name, environment string) (*Credential, error) {
	row := s.db.QueryRow(
		`SELECT `+credentialColumns+` FROM credentials c WHERE c.name = ? AND c.environment = ?`,
		name, environment,
	)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &CredentialNotFoundError{Name: name, Environment: environment}
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// GetMetadata returns a credential's metadata regardless of status.
// Revoked credentials stay visible here even though retrieval refuses
// them.
func (s *CredentialStore) GetMetadata(credentialID string) (*Credential, error) {
	cred, _, err := s.loadAny(credentialID)
	return cred, err
}

// Count returns the number of credentials matching the filter.
func (s *CredentialStore) Count(filter ListFilter) (int, error) {
	query := `SELECT COUNT(*) FROM credentials c WHERE 1=1`
	var args []any
	if filter.Service != "" {
		query += ` AND c.service = ?`
		args = append(args, filter.Service)
	}
	if filter.Type != "" {
		query += ` AND c.type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Environment != "" {
		query += ` AND c.environment = ?`
		args = append(args, filter.Environment)
	}
	if filter.Status != "" {
		query += ` AND c.status = ?`
		args = append(args, string(filter.Status))
	}
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// loadActive loads a credential row filtered to status = active, as the
// retrieval path requires.
func (s *CredentialStore) loadActive(credentialID string) (*Credential, string, error) {
	return s.load(credentialID, true)
}

// loadAny loads a credential row regardless of status.
func (s *CredentialStore) loadAny(credentialID string) (*Credential, string, error) {
	return s.load(credentialID, false)
}

func (s *CredentialStore) load(credentialID string, activeOnly bool) (*Credential, string, error) {
	query := `SELECT ` + credentialColumns + `, c.encrypted_value FROM credentials c WHERE c.id = ?`
	if activeOnly {
		query += ` AND c.status = 'active'`
	}

	row := s.db.QueryRow(query, credentialID)
	var (
		cred                           Credential
		typ, status, created, updated  string
		keyID, metaJSON, rotated       sql.NullString
		envelopeJSON                   string
	)
	err := row.Scan(&cred.ID, &cred.Name, &cred.Environment, &typ, &cred.Service, &keyID, &metaJSON, &created, &updated, &rotated, &status, &envelopeJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", &CredentialNotFoundError{ID: credentialID}
	}
	if err != nil {
		return nil, "", err
	}

	cred.Type = CredentialType(typ)
	cred.Status = CredentialStatus(status)
	cred.EncryptionKeyID = keyID.String
	if t, err := parseTime(created); err == nil {
		cred.CreatedAt = t
	}
	if t, err := parseTime(updated); err == nil {
		cred.UpdatedAt = t
	}
	if rotated.Valid {
		if t, err := parseTime(rotated.String); err == nil {
			cred.LastRotatedAt = &t
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		cred.Metadata = make(map[string]any)
		_ = json.Unmarshal([]byte(metaJSON.String), &cred.Metadata)
	}
	return &cred, envelopeJSON, nil
}

func (s *CredentialStore) decryptValue(typ CredentialType, envelopeJSON string) (CredentialValue, error) {
	envelope, err := crypto.DecodeEnvelope([]byte(envelopeJSON))
	if err != nil {
		return nil, err
	}
	plaintext, err := s.cipher.Decrypt(envelope)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(plaintext)
	return DecodeValue(typ, plaintext)
}

// ensureKeyRecord upserts the master-key row identified by keyHash and
// returns its id. The key material itself is never written.
func ensureKeyRecord(tx *sql.Tx, keyHash string) (string, error) {
	var id string
	err := tx.QueryRow(`SELECT id FROM encryption_keys WHERE key_hash = ?`, keyHash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	id = crypto.NewKeyID()
	_, err = tx.Exec(
		`INSERT INTO encryption_keys (id, key_hash, algorithm, created_at, status) VALUES (?, ?, 'aes-256-gcm', ?, 'active')`,
		id, keyHash, formatTime(time.Now()),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func scanCredential(r rowScanner) (Credential, error) {
	var (
		cred                          Credential
		typ, status, created, updated string
		keyID, metaJSON, rotated      sql.NullString
	)
	err := r.Scan(&cred.ID, &cred.Name, &cred.Environment, &typ, &cred.Service, &keyID, &metaJSON, &created, &updated, &rotated, &status)
	if err != nil {
		return cred, err
	}
	cred.Type = CredentialType(typ)
	cred.Status = CredentialStatus(status)
	cred.EncryptionKeyID = keyID.String
	if t, err := parseTime(created); err == nil {
		cred.CreatedAt = t
	}
	if t, err := parseTime(updated); err == nil {
		cred.UpdatedAt = t
	}
	if rotated.Valid {
		if t, err := parseTime(rotated.String); err == nil {
			cred.LastRotatedAt = &t
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		cred.Metadata = make(map[string]any)
		_ = json.Unmarshal([]byte(metaJSON.String), &cred.Metadata)
	}
	return cred, nil
}
