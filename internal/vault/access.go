package vault

import (
	"database/sql"
	"errors"
	"time"

	"github.com/skillbank/credvault/internal/crypto"
)

// AccessController owns the access_policies table: grants, revocations,
// permission checks, expiry handling and the level hierarchy.
type AccessController struct {
	db    *sql.DB
	audit *AuditLogger
}

// NewAccessController returns a controller over db that records grant
// and revoke events through audit.
func NewAccessController(db *sql.DB, audit *AuditLogger) *AccessController {
	return &AccessController{db: db, audit: audit}
}

// GrantOptions carries the optional fields of a grant.
type GrantOptions struct {
	AccessLevel AccessLevel
	ExpiresAt   *time.Time
	GrantedBy   string
	Reason      string
}

// GrantAccess upserts a policy on (credential_id, entity_id,
// entity_type) and returns the policy id. Re-granting replaces the
// previous policy entirely. The credential must exist; its status does
// not matter here (policies may be staged on revoked credentials).
func (c *AccessController) GrantAccess(credentialID, entityID string, entityType EntityType, opts GrantOptions) (string, error) {
	var exists int
	err := c.db.QueryRow(`SELECT 1 FROM credentials WHERE id = ?`, credentialID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &CredentialNotFoundError{ID: credentialID}
	}
	if err != nil {
		return "", err
	}

	level := opts.AccessLevel
	if level == "" {
		level = LevelRead
	}

	policyID := crypto.NewPolicyID()
	var expires any
	if opts.ExpiresAt != nil {
		expires = formatTime(*opts.ExpiresAt)
	}

	_, err = c.db.Exec(
		`INSERT INTO access_policies (id, credential_id, entity_id, entity_type, access_level, granted_by, granted_at, expires_at, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (credential_id, entity_id, entity_type) DO UPDATE SET
		 	id = excluded.id,
		 	access_level = excluded.access_level,
		 	granted_by = excluded.granted_by,
		 	granted_at = excluded.granted_at,
		 	expires_at = excluded.expires_at,
		 	reason = excluded.reason`,
		policyID, credentialID, entityID, string(entityType), string(level),
		nullable(opts.GrantedBy), formatTime(time.Now()), expires, nullable(opts.Reason),
	)
	if err != nil {
		return "", err
	}

	c.audit.Log(credentialID, entityID, entityType, ActionGrantAccess, true, LogOptions{
		UserID: opts.GrantedBy,
		Metadata: map[string]any{
			"access_level": string(level),
		},
	})
	return policyID, nil
}

// RevokeAccess deletes the matching policy and reports whether a row
// was removed.
func (c *AccessController) RevokeAccess(credentialID, entityID string, entityType EntityType) (bool, error) {
	res, err := c.db.Exec(
		`DELETE FROM access_policies WHERE credential_id = ? AND entity_id = ? AND entity_type = ?`,
		credentialID, entityID, string(entityType),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		c.audit.Log(credentialID, entityID, entityType, ActionRevokeAccess, true, LogOptions{})
	}
	return n > 0, nil
}

// RevokeAllAccess removes every policy on a credential. Revoking a
// credential does not touch its policies; callers wanting full lockout
// invoke this alongside Revoke.
func (c *AccessController) RevokeAllAccess(credentialID string) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM access_policies WHERE credential_id = ?`, credentialID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// HasAccess is a pure predicate: true iff a policy row exists, is not
// expired, the credential is active, and the granted level satisfies
// the required one. It never writes audit; permission probing must not
// produce audit noise.
func (c *AccessController) HasAccess(credentialID, entityID string, entityType EntityType, required AccessLevel) (bool, error) {
	allowed, _, err := c.check(credentialID, entityID, entityType, required)
	return allowed, err
}

// AssertAccess wraps HasAccess and returns an AccessDeniedError
// carrying the tried level, entity, and denial reason.
func (c *AccessController) AssertAccess(credentialID, entityID string, entityType EntityType, required AccessLevel) error {
	allowed, reason, err := c.check(credentialID, entityID, entityType, required)
	if err != nil {
		return err
	}
	if !allowed {
		return &AccessDeniedError{
			CredentialID: credentialID,
			EntityID:     entityID,
			EntityType:   entityType,
			Required:     required,
			Reason:       reason,
		}
	}
	return nil
}

// check evaluates the predicate and, on denial, names the first failing
// condition for the audit trail.
func (c *AccessController) check(credentialID, entityID string, entityType EntityType, required AccessLevel) (bool, string, error) {
	if required == "" {
		required = LevelRead
	}

	var status string
	err := c.db.QueryRow(`SELECT status FROM credentials WHERE id = ?`, credentialID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, DenialNoPolicy, nil
	}
	if err != nil {
		return false, "", err
	}
	if CredentialStatus(status) != StatusActive {
		return false, DenialCredentialRevoked, nil
	}

	var level string
	var expires sql.NullString
	err = c.db.QueryRow(
		`SELECT access_level, expires_at FROM access_policies
		 WHERE credential_id = ? AND entity_id = ? AND entity_type = ?`,
		credentialID, entityID, string(entityType),
	).Scan(&level, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return false, DenialNoPolicy, nil
	}
	if err != nil {
		return false, "", err
	}

	if expires.Valid {
		exp, perr := parseTime(expires.String)
		if perr != nil || !exp.After(time.Now()) {
			return false, DenialPolicyExpired, nil
		}
	}
	if !AccessLevel(level).Satisfies(required) {
		return false, DenialInsufficientLevel, nil
	}
	return true, "", nil
}

// GetAccessPolicies returns every policy on a credential.
func (c *AccessController) GetAccessPolicies(credentialID string) ([]AccessPolicy, error) {
	return c.queryPolicies(`SELECT id, credential_id, entity_id, entity_type, access_level, granted_by, granted_at, expires_at, reason
		FROM access_policies WHERE credential_id = ? ORDER BY granted_at DESC`, credentialID)
}

// GetAccessibleCredentials returns metadata for the active credentials
// an entity currently holds an unexpired policy on.
func (c *AccessController) GetAccessibleCredentials(entityID string, entityType EntityType) ([]Credential, error) {
	rows, err := c.db.Query(
		`SELECT `+credentialColumns+`
		 FROM credentials c
		 JOIN access_policies p ON p.credential_id = c.id
		 WHERE p.entity_id = ? AND p.entity_type = ?
		   AND c.status = 'active'
		   AND (p.expires_at IS NULL OR p.expires_at > ?)
		 ORDER BY c.name`,
		entityID, string(entityType), formatTime(time.Now()),
	)
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

// UpdateAccessLevel changes the level of an existing policy.
func (c *AccessController) UpdateAccessLevel(credentialID, entityID string, entityType EntityType, level AccessLevel) error {
	res, err := c.db.Exec(
		`UPDATE access_policies SET access_level = ? WHERE credential_id = ? AND entity_id = ? AND entity_type = ?`,
		string(level), credentialID, entityID, string(entityType),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &AccessDeniedError{
			CredentialID: credentialID,
			EntityID:     entityID,
			EntityType:   entityType,
			Required:     level,
			Reason:       DenialNoPolicy,
		}
	}
	return nil
}

// CleanupExpiredPolicies deletes every policy at or past its expiry and
// returns the count removed.
func (c *AccessController) CleanupExpiredPolicies() (int64, error) {
	res, err := c.db.Exec(
		`DELETE FROM access_policies WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		formatTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetPoliciesExpiringSoon returns unexpired policies whose expiry falls
// within the next given number of days.
func (c *AccessController) GetPoliciesExpiringSoon(days int) ([]AccessPolicy, error) {
	now := time.Now()
	return c.queryPolicies(
		`SELECT id, credential_id, entity_id, entity_type, access_level, granted_by, granted_at, expires_at, reason
		 FROM access_policies
		 WHERE expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?
		 ORDER BY expires_at`,
		formatTime(now), formatTime(now.AddDate(0, 0, days)),
	)
}

func (c *AccessController) queryPolicies(query string, args ...any) ([]AccessPolicy, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []AccessPolicy
	for rows.Next() {
		var (
			p                          AccessPolicy
			entityType, level, granted string
			grantedBy, expires, reason sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.CredentialID, &p.EntityID, &entityType, &level, &grantedBy, &granted, &expires, &reason); err != nil {
			return nil, err
		}
		p.EntityType = EntityType(entityType)
		p.AccessLevel = AccessLevel(level)
		p.GrantedBy = grantedBy.String
		p.Reason = reason.String
		if t, err := parseTime(granted); err == nil {
			p.GrantedAt = t
		}
		if expires.Valid {
			if t, err := parseTime(expires.String); err == nil {
				p.ExpiresAt = &t
			}
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}
