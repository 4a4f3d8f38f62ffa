package vault

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/skillbank/credvault/internal/crypto"
)

// DefaultRecentLimit bounds the otherwise unbounded recent-entries query.
const DefaultRecentLimit = 100

// DefaultRetentionDays is the cutoff for CleanupOldEntries when the
// caller passes no explicit value.
const DefaultRetentionDays = 90

// AuditLogger appends to and queries the append-only audit_log table.
// There is no update path.
type AuditLogger struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAuditLogger returns an audit logger over db. Insert failures are
// reported to logger; they never mask the outcome of the operation
// being audited.
func NewAuditLogger(db *sql.DB, logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{db: db, log: logger}
}

// LogOptions carries the optional audit entry fields.
type LogOptions struct {
	UserID       string
	IPAddress    string
	ErrorMessage string
	Metadata     map[string]any
}

// Log synchronously inserts one audit entry. An insert failure is an
// operational alert, not a correctness failure for the audited
// operation: it is written to the error sink and swallowed.
func (a *AuditLogger) Log(credentialID, entityID string, entityType EntityType, action Action, success bool, opts LogOptions) {
	if err := a.insert(a.db, credentialID, entityID, entityType, action, success, opts); err != nil {
		a.log.Error().
			Err(err).
			Str("credential_id", credentialID).
			Str("entity_id", entityID).
			Str("action", string(action)).
			Msg("audit write failed; primary operation unaffected")
	}
}

// logTx inserts an audit entry inside an explicit transaction. Here a
// failure does propagate, rolling back the whole logical operation.
func (a *AuditLogger) logTx(tx *sql.Tx, credentialID, entityID string, entityType EntityType, action Action, success bool, opts LogOptions) error {
	return a.insert(tx, credentialID, entityID, entityType, action, success, opts)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (a *AuditLogger) insert(db execer, credentialID, entityID string, entityType EntityType, action Action, success bool, opts LogOptions) error {
	var metaJSON any
	if len(opts.Metadata) > 0 {
		b, err := json.Marshal(opts.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metaJSON = string(b)
	}

	_, err := db.Exec(
		`INSERT INTO audit_log (id, credential_id, entity_id, entity_type, user_id, action, success, timestamp, ip_address, error_message, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		crypto.NewAuditID(), credentialID, entityID, string(entityType),
		nullable(opts.UserID), string(action), boolToInt(success),
		formatTime(time.Now()), nullable(opts.IPAddress), nullable(opts.ErrorMessage), metaJSON,
	)
	return err
}

// AuditFilter parameterizes the query surface. Zero values are
// ignored; Limit <= 0 means DefaultRecentLimit.
type AuditFilter struct {
	CredentialID string
	EntityID     string
	EntityType   EntityType
	UserID       string
	Action       Action
	Since        *time.Time
	Until        *time.Time
	SuccessOnly  bool
	Limit        int
}

// Query returns matching audit entries, newest first.
func (a *AuditLogger) Query(f AuditFilter) ([]AuditEntry, error) {
	var (
		conds []string
		args  []any
	)
	if f.CredentialID != "" {
		conds = append(conds, "credential_id = ?")
		args = append(args, f.CredentialID)
	}
	if f.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, string(f.EntityType))
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, string(f.Action))
	}
	if f.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, formatTime(*f.Until))
	}
	if f.SuccessOnly {
		conds = append(conds, "success = 1")
	}

	query := `SELECT id, credential_id, entity_id, entity_type, user_id, action, success, timestamp, ip_address, error_message, metadata FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	args = append(args, limit)

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ByCredential returns the newest entries for one credential.
func (a *AuditLogger) ByCredential(credentialID string, limit int) ([]AuditEntry, error) {
	return a.Query(AuditFilter{CredentialID: credentialID, Limit: limit})
}

// ByEntity returns the newest entries for one consuming entity.
func (a *AuditLogger) ByEntity(entityID string, entityType EntityType, limit int) ([]AuditEntry, error) {
	return a.Query(AuditFilter{EntityID: entityID, EntityType: entityType, Limit: limit})
}

// ByUser returns the newest entries attributed to one user.
func (a *AuditLogger) ByUser(userID string, limit int) ([]AuditEntry, error) {
	return a.Query(AuditFilter{UserID: userID, Limit: limit})
}

// Recent returns the newest entries across the whole log.
func (a *AuditLogger) Recent(limit int) ([]AuditEntry, error) {
	return a.Query(AuditFilter{Limit: limit})
}

// Summary aggregates the audit log.
type Summary struct {
	Total        int
	ByCredential map[string]int
	ByEntity     map[string]int
	ByAction     map[string]int
	FailedAccess int
	LastAccessAt *time.Time
}

// GetSummary computes totals, per-credential, per-entity and per-action
// counts, the failed-access count, and the most recent access time
// (the newest retrieve attempt, successful or not).
func (a *AuditLogger) GetSummary() (*Summary, error) {
	s := &Summary{
		ByCredential: make(map[string]int),
		ByEntity:     make(map[string]int),
		ByAction:     make(map[string]int),
	}

	rows, err := a.db.Query(`SELECT credential_id, entity_id, action, success, timestamp FROM audit_log`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var credID, entityID, action, ts string
		var success int
		if err := rows.Scan(&credID, &entityID, &action, &success, &ts); err != nil {
			return nil, err
		}
		s.Total++
		s.ByCredential[credID]++
		s.ByEntity[entityID]++
		s.ByAction[action]++
		if action == string(ActionRetrieve) && success == 0 {
			s.FailedAccess++
		}
		if action != string(ActionRetrieve) {
			continue
		}
		if t, err := parseTime(ts); err == nil {
			if s.LastAccessAt == nil || t.After(*s.LastAccessAt) {
				s.LastAccessAt = &t
			}
		}
	}
	return s, rows.Err()
}

// CleanupOldEntries deletes entries strictly older than the cutoff and
// returns how many were removed. olderThanDays <= 0 uses the default
// 90-day retention.
func (a *AuditLogger) CleanupOldEntries(olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = DefaultRetentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	res, err := a.db.Exec(`DELETE FROM audit_log WHERE timestamp < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditEntry(r rowScanner) (AuditEntry, error) {
	var (
		e                            AuditEntry
		entityType, action, ts       string
		userID, ip, errMsg, metaJSON sql.NullString
		success                      int
	)
	if err := r.Scan(&e.ID, &e.CredentialID, &e.EntityID, &entityType, &userID, &action, &success, &ts, &ip, &errMsg, &metaJSON); err != nil {
		return e, err
	}
	e.EntityType = EntityType(entityType)
	e.Action = Action(action)
	e.Success = success != 0
	e.UserID = userID.String
	e.IPAddress = ip.String
	e.ErrorMessage = errMsg.String
	if t, err := parseTime(ts); err == nil {
		e.Timestamp = t
	}
	if metaJSON.Valid && metaJSON.String != "" {
		e.Metadata = make(map[string]any)
		_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
	}
	return e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
