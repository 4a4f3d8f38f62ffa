package vault

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"
	"github.com/rs/zerolog"

	"github.com/skillbank/credvault/internal/crypto"
)

// Service is the embedded vault: an encrypted SQLite store with the
// credential store, access controller and audit logger wired over a
// single connection pool so multi-statement operations share
// transactions.
type Service struct {
	db     *sql.DB
	cipher *crypto.Cipher
	log    zerolog.Logger

	store  *CredentialStore
	access *AccessController
	audit  *AuditLogger
}

// Options configures Open.
type Options struct {
	// Key is an optional SQLCipher passphrase for the database file.
	// Empty opens a plain SQLite file; the per-record envelopes remain
	// the primary protection either way.
	Key string

	// Source supplies the master key. Nil defaults to the
	// MASTER_ENCRYPTION_KEY environment source.
	Source crypto.MasterKeySource

	// KDF overrides the KDF used for new envelopes. Nil defers to the
	// DEFAULT_KDF_TYPE environment selection.
	KDF *crypto.KDFConfig

	// Logger is the out-of-band error sink. The zero value discards.
	Logger zerolog.Logger
}

// Open opens (or creates) the vault database at path and applies the
// schema.
func Open(path string, opts Options) (*Service, error) {
	dsn := path
	if opts.Key != "" {
		dsn = fmt.Sprintf("%s?_pragma_key=%s", path, url.QueryEscape(opts.Key))
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	source := opts.Source
	if source == nil {
		source = crypto.NewEnvSource()
	}

	logger := opts.Logger
	cipher := crypto.NewCipher(source)
	audit := NewAuditLogger(db, logger.With().Str("component", "audit").Logger())
	access := NewAccessController(db, audit)
	store := NewCredentialStore(db, cipher, access, audit, logger.With().Str("component", "store").Logger(), opts.KDF)

	return &Service{
		db:     db,
		cipher: cipher,
		log:    logger,
		store:  store,
		access: access,
		audit:  audit,
	}, nil
}

// Credentials returns the credential store (C4).
func (s *Service) Credentials() *CredentialStore { return s.store }

// Access returns the access controller (C5).
func (s *Service) Access() *AccessController { return s.access }

// Audit returns the audit logger (C6).
func (s *Service) Audit() *AuditLogger { return s.audit }

// Ping verifies the underlying store is reachable.
func (s *Service) Ping() error { return s.db.Ping() }

// Close releases the database connection.
func (s *Service) Close() error { return s.db.Close() }

// Stats summarizes the vault's contents.
type Stats struct {
	Credentials int
	Active      int
	Policies    int
	AuditRows   int
}

// Stats counts credentials, active credentials, policies and audit
// rows.
func (s *Service) Stats() (*Stats, error) {
	var st Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM credentials`).Scan(&st.Credentials); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM credentials WHERE status = 'active'`).Scan(&st.Active); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM access_policies`).Scan(&st.Policies); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&st.AuditRows); err != nil {
		return nil, err
	}
	return &st, nil
}

// RotateMasterKey re-encrypts every credential envelope from oldSource
// to newSource, marks the old master-key record rotated, and records
// the new one. The whole sweep commits in one transaction: either all
// envelopes move to the new key or none do.
func (s *Service) RotateMasterKey(oldSource, newSource crypto.MasterKeySource) (int, error) {
	oldCipher := crypto.NewCipher(oldSource)
	oldHash, err := oldCipher.KeyHash()
	if err != nil {
		return 0, err
	}
	newCipher := crypto.NewCipher(newSource)
	newHash, err := newCipher.KeyHash()
	if err != nil {
		return 0, err
	}
	if oldHash == newHash {
		return 0, nil
	}

	rows, err := s.db.Query(`SELECT id, encrypted_value FROM credentials`)
	if err != nil {
		return 0, err
	}
	type pending struct {
		id       string
		envelope string
	}
	var work []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.envelope); err != nil {
			rows.Close()
			return 0, err
		}
		work = append(work, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	newKeyID, err := ensureKeyRecord(tx, newHash)
	if err != nil {
		return 0, err
	}

	now := formatTime(time.Now())
	for _, p := range work {
		envelope, err := crypto.DecodeEnvelope([]byte(p.envelope))
		if err != nil {
			return 0, fmt.Errorf("credential %s: %w", p.id, err)
		}
		reencrypted, err := s.cipher.ReEncryptWith(envelope, oldSource, newSource, s.store.encryptionConfig())
		if err != nil {
			return 0, fmt.Errorf("credential %s: %w", p.id, err)
		}
		blob, err := crypto.EncodeEnvelope(reencrypted)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(
			`UPDATE credentials SET encrypted_value = ?, encryption_key_id = ?, updated_at = ? WHERE id = ?`,
			string(blob), newKeyID, now, p.id,
		); err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(
		`UPDATE encryption_keys SET status = 'rotated', rotated_to = ? WHERE key_hash = ?`,
		newKeyID, oldHash,
	); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.log.Info().Int("credentials", len(work)).Msg("master key rotated")
	return len(work), nil
}
