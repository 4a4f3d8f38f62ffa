package vault

import (
	"database/sql"
	"fmt"
	"time"
)

// timeLayout is the stored timestamp format: ISO-8601 UTC with
// millisecond precision. The fixed width keeps lexicographic and
// chronological order identical, which the expiry and retention
// queries rely on, and matches SQLite's
// strftime('%Y-%m-%dT%H:%M:%fZ','now') output used in the views.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Tolerate second-precision timestamps written by hand or by
		// older tooling.
		t, err = time.Parse("2006-01-02T15:04:05Z", s)
	}
	return t, err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS credentials (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	environment       TEXT NOT NULL,
	type              TEXT NOT NULL,
	service           TEXT NOT NULL,
	encrypted_value   TEXT NOT NULL,
	encryption_key_id TEXT,
	metadata          TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	last_rotated_at   TEXT,
	status            TEXT NOT NULL DEFAULT 'active',
	UNIQUE (name, environment)
);

CREATE TABLE IF NOT EXISTS encryption_keys (
	id         TEXT PRIMARY KEY,
	key_hash   TEXT NOT NULL UNIQUE,
	algorithm  TEXT NOT NULL DEFAULT 'aes-256-gcm',
	created_at TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	rotated_to TEXT
);

CREATE TABLE IF NOT EXISTS access_policies (
	id            TEXT PRIMARY KEY,
	credential_id TEXT NOT NULL REFERENCES credentials(id) ON DELETE CASCADE,
	entity_id     TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	access_level  TEXT NOT NULL DEFAULT 'read',
	granted_by    TEXT,
	granted_at    TEXT NOT NULL,
	expires_at    TEXT,
	reason        TEXT,
	UNIQUE (credential_id, entity_id, entity_type)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id            TEXT PRIMARY KEY,
	credential_id TEXT NOT NULL REFERENCES credentials(id) ON DELETE CASCADE,
	entity_id     TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	user_id       TEXT,
	action        TEXT NOT NULL,
	success       INTEGER NOT NULL,
	timestamp     TEXT NOT NULL,
	ip_address    TEXT,
	error_message TEXT,
	metadata      TEXT
);

CREATE INDEX IF NOT EXISTS idx_credentials_service     ON credentials(service);
CREATE INDEX IF NOT EXISTS idx_credentials_type        ON credentials(type);
CREATE INDEX IF NOT EXISTS idx_credentials_status      ON credentials(status);
CREATE INDEX IF NOT EXISTS idx_credentials_environment ON credentials(environment);
CREATE INDEX IF NOT EXISTS idx_credentials_name        ON credentials(name);

CREATE INDEX IF NOT EXISTS idx_policies_credential ON access_policies(credential_id);
CREATE INDEX IF NOT EXISTS idx_policies_entity     ON access_policies(entity_id, entity_type);
CREATE INDEX IF NOT EXISTS idx_policies_expires    ON access_policies(expires_at);
CREATE INDEX IF NOT EXISTS idx_policies_lookup     ON access_policies(credential_id, entity_id, entity_type);

CREATE INDEX IF NOT EXISTS idx_audit_credential ON audit_log(credential_id);
CREATE INDEX IF NOT EXISTS idx_audit_entity     ON audit_log(entity_id, entity_type);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp  ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_action     ON audit_log(action);
CREATE INDEX IF NOT EXISTS idx_audit_user       ON audit_log(user_id);
CREATE INDEX IF NOT EXISTS idx_audit_success    ON audit_log(success);

CREATE INDEX IF NOT EXISTS idx_keys_status ON encryption_keys(status);

CREATE VIEW IF NOT EXISTS v_credentials_summary AS
SELECT
	c.id, c.name, c.environment, c.type, c.service, c.status,
	c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM access_policies p WHERE p.credential_id = c.id) AS policy_count,
	(SELECT COUNT(*) FROM audit_log a
	  WHERE a.credential_id = c.id
	    AND a.action = 'retrieve'
	    AND a.success = 1
	    AND a.timestamp >= strftime('%Y-%m-%dT%H:%M:%fZ', 'now', '-30 days')) AS recent_access_count
FROM credentials c;

CREATE VIEW IF NOT EXISTS v_recent_access AS
SELECT a.id, a.credential_id, c.name, c.service, a.entity_id, a.entity_type,
	a.action, a.success, a.timestamp, a.user_id, a.ip_address, a.error_message
FROM audit_log a
JOIN credentials c ON c.id = a.credential_id
ORDER BY a.timestamp DESC
LIMIT 100;

CREATE VIEW IF NOT EXISTS v_expired_policies AS
SELECT p.id, p.credential_id, p.entity_id, p.entity_type, p.access_level, p.expires_at
FROM access_policies p
WHERE p.expires_at IS NOT NULL
  AND p.expires_at <= strftime('%Y-%m-%dT%H:%M:%fZ', 'now');
`

// applySchema creates the tables, indexes and convenience views, and
// turns on foreign-key enforcement so policy and audit rows cascade
// when a credential is hard-deleted.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
