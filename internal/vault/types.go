package vault

import (
	"encoding/json"
	"fmt"
	"time"
)

// CredentialType classifies the shape of a stored credential value.
type CredentialType string

const (
	TypeAPIKey       CredentialType = "api_key"
	TypeOAuthToken   CredentialType = "oauth_token"
	TypeBasicAuth    CredentialType = "basic_auth"
	TypeDBConnection CredentialType = "db_connection"
	TypeSSHKey       CredentialType = "ssh_key"
	TypeCustom       CredentialType = "custom"
)

// Valid reports whether t is one of the six known credential types.
func (t CredentialType) Valid() bool {
	switch t {
	case TypeAPIKey, TypeOAuthToken, TypeBasicAuth, TypeDBConnection, TypeSSHKey, TypeCustom:
		return true
	}
	return false
}

// CredentialStatus is the lifecycle state of a credential record.
// Retrieval is defined only from StatusActive; there are no transitions
// out of StatusRevoked.
type CredentialStatus string

const (
	StatusActive CredentialStatus = "active"
	// StatusRotated is reserved for future multi-version schemes;
	// Rotate preserves StatusActive.
	StatusRotated CredentialStatus = "rotated"
	StatusRevoked CredentialStatus = "revoked"
)

// EntityType tags the kind of consumer a policy or audit entry refers to.
type EntityType string

const (
	EntitySkill EntityType = "skill"
	EntityTool  EntityType = "tool"
)

// AccessLevel orders permissions as admin > write > read.
type AccessLevel string

const (
	LevelRead  AccessLevel = "read"
	LevelWrite AccessLevel = "write"
	LevelAdmin AccessLevel = "admin"
)

func (l AccessLevel) rank() int {
	switch l {
	case LevelRead:
		return 1
	case LevelWrite:
		return 2
	case LevelAdmin:
		return 3
	}
	return 0
}

// Satisfies reports whether a granted level meets a required one.
func (l AccessLevel) Satisfies(required AccessLevel) bool {
	return l.rank() >= required.rank()
}

// Valid reports whether l names a known access level.
func (l AccessLevel) Valid() bool { return l.rank() > 0 }

// Action enumerates the audit event kinds emitted by vault operations.
type Action string

const (
	ActionRetrieve     Action = "retrieve"
	ActionRotate       Action = "rotate"
	ActionRevoke       Action = "revoke"
	ActionGrantAccess  Action = "grant_access"
	ActionRevokeAccess Action = "revoke_access"
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
)

// Credential is the metadata view of a stored credential. The
// encryption envelope is never exposed here; Retrieve returns the
// decrypted value separately.
type Credential struct {
	ID              string
	Name            string
	Environment     string
	Type            CredentialType
	Service         string
	EncryptionKeyID string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastRotatedAt   *time.Time
	Status          CredentialStatus
}

// DecryptedCredential pairs credential metadata with its plaintext
// value. The value lives only on the return path; callers own its
// lifetime.
type DecryptedCredential struct {
	Credential
	Value CredentialValue
}

// AccessPolicy grants one entity a level of access to one credential,
// optionally time-bounded. (credential_id, entity_id, entity_type) is
// unique; re-granting replaces the previous policy.
type AccessPolicy struct {
	ID           string
	CredentialID string
	EntityID     string
	EntityType   EntityType
	AccessLevel  AccessLevel
	GrantedBy    string
	GrantedAt    time.Time
	ExpiresAt    *time.Time
	Reason       string
}

// Expired reports whether the policy has an expiry in the past.
func (p *AccessPolicy) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID           string
	CredentialID string
	EntityID     string
	EntityType   EntityType
	UserID       string
	Action       Action
	Success      bool
	Timestamp    time.Time
	IPAddress    string
	ErrorMessage string
	Metadata     map[string]any
}

// MasterKeyRecord identifies a master key by hash; the key material is
// never stored.
type MasterKeyRecord struct {
	ID        string
	KeyHash   string
	Algorithm string
	CreatedAt time.Time
	Status    string
	RotatedTo string
}

// CredentialValue is the closed sum of the six credential value shapes.
// Plaintext is the UTF-8 JSON encoding of the concrete variant.
type CredentialValue interface {
	CredentialType() CredentialType
}

// APIKeyValue holds a key and optional secret pair.
type APIKeyValue struct {
	Key    string `json:"key"`
	Secret string `json:"secret,omitempty"`
}

func (APIKeyValue) CredentialType() CredentialType { return TypeAPIKey }

// OAuthTokenValue holds an access token and its refresh metadata.
type OAuthTokenValue struct {
	Access    string   `json:"access"`
	Refresh   string   `json:"refresh,omitempty"`
	ExpiresAt string   `json:"expires_at,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

func (OAuthTokenValue) CredentialType() CredentialType { return TypeOAuthToken }

// BasicAuthValue holds a user/password pair.
type BasicAuthValue struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func (BasicAuthValue) CredentialType() CredentialType { return TypeBasicAuth }

// DBConnectionValue holds database connection parameters.
type DBConnectionValue struct {
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Database string            `json:"database"`
	User     string            `json:"user"`
	Password string            `json:"password"`
	SSL      bool              `json:"ssl,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

func (DBConnectionValue) CredentialType() CredentialType { return TypeDBConnection }

// SSHKeyValue holds a private key with optional public half and
// passphrase.
type SSHKeyValue struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

func (SSHKeyValue) CredentialType() CredentialType { return TypeSSHKey }

// CustomValue is an opaque map kept open for extensibility.
type CustomValue map[string]any

func (CustomValue) CredentialType() CredentialType { return TypeCustom }

// EncodeValue serializes a credential value to its plaintext JSON form.
func EncodeValue(v CredentialValue) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return data, nil
}

// DecodeValue parses plaintext JSON into the variant declared by the
// credential's type column. The switch is exhaustive over the closed
// sum; an unknown type is an error, not a map.
func DecodeValue(t CredentialType, data []byte) (CredentialValue, error) {
	switch t {
	case TypeAPIKey:
		var v APIKeyValue
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return v, nil
	case TypeOAuthToken:
		var v OAuthTokenValue
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return v, nil
	case TypeBasicAuth:
		var v BasicAuthValue
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return v, nil
	case TypeDBConnection:
		var v DBConnectionValue
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return v, nil
	case TypeSSHKey:
		var v SSHKeyValue
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return v, nil
	case TypeCustom:
		var v CustomValue
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unknown credential type %q", ErrInvalidValue, t)
	}
}
