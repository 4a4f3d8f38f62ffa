package vault

import (
	"errors"
	"fmt"
	"strings"
)

// Denial reasons recorded in AccessDeniedError and in the audit trail.
const (
	DenialNoPolicy          = "no access policy"
	DenialPolicyExpired     = "access policy expired"
	DenialInsufficientLevel = "insufficient access level"
	DenialCredentialRevoked = "credential is not active"
)

// AccessDeniedError reports a failed permission check. It carries the
// entity and level that were tried so the audit trail can explain the
// denial.
type AccessDeniedError struct {
	CredentialID string
	EntityID     string
	EntityType   EntityType
	Required     AccessLevel
	Reason       string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied for %s %q on credential %s (required level %s): %s",
		e.EntityType, e.EntityID, e.CredentialID, e.Required, e.Reason)
}

// CredentialNotFoundError reports a lookup miss by id or by
// (name, environment). The retrieval path also reports non-active
// credentials this way.
type CredentialNotFoundError struct {
	ID          string
	Name        string
	Environment string
}

func (e *CredentialNotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("credential not found: %s", e.ID)
	}
	return fmt.Sprintf("credential not found: %s/%s", e.Environment, e.Name)
}

// ConflictError reports a unique-constraint violation: a duplicate
// (name, environment) pair on store.
type ConflictError struct {
	Name        string
	Environment string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("credential %q already exists in environment %q", e.Name, e.Environment)
}

// ErrInvalidValue indicates a credential value that does not match its
// declared type.
var ErrInvalidValue = errors.New("invalid credential value")

// isUniqueViolation matches SQLite's unique-constraint error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
