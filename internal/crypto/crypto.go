package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const (
	SaltLength  = 16 // envelope salt length for new records
	NonceLength = 12 // GCM nonce length
	TagLength   = 16 // GCM authentication tag length

	// EnvelopeVersion is stamped into the kdfVersion field of new
	// envelopes. Envelopes without it predate KDF agility and decrypt
	// under PBKDF2 defaults.
	EnvelopeVersion = "3.0"
)

// Envelope is the self-describing encryption record persisted alongside
// each credential. All byte fields are base64-encoded. Given only the
// master key, the envelope is sufficient for decryption; readers
// tolerate the absence of the three KDF fields and treat such
// envelopes as legacy PBKDF2.
type Envelope struct {
	EncryptedValue string     `json:"encryptedValue"`
	IV             string     `json:"iv"`
	AuthTag        string     `json:"authTag"`
	Salt           string     `json:"salt"`
	KDFType        KDFType    `json:"kdfType,omitempty"`
	KDFParameters  *KDFParams `json:"kdfParameters,omitempty"`
	KDFVersion     string     `json:"kdfVersion,omitempty"`
}

// KDFConfig resolves the derivation configuration recorded in the
// envelope, falling back to PBKDF2 defaults for legacy envelopes.
func (e *Envelope) KDFConfig() KDFConfig {
	if e.KDFType == "" {
		return PBKDF2Defaults()
	}
	cfg := KDFConfig{Type: e.KDFType}
	if e.KDFParameters != nil {
		cfg.Params = *e.KDFParameters
	}
	return cfg
}

// EncodeEnvelope serializes an envelope to its stored JSON form.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, &EncryptionError{Reason: ReasonCipherFailure, Err: err}
	}
	return data, nil
}

// DecodeEnvelope parses a stored envelope blob.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &DecryptionError{Reason: ReasonMalformedEnvelope, Err: err}
	}
	if e.EncryptedValue == "" || e.IV == "" || e.AuthTag == "" || e.Salt == "" {
		return nil, &DecryptionError{Reason: ReasonMalformedEnvelope, Err: fmt.Errorf("envelope is missing required fields")}
	}
	return &e, nil
}

// Cipher performs AES-256-GCM authenticated encryption with per-record
// keys derived from the injected master-key source.
type Cipher struct {
	source MasterKeySource
}

// NewCipher returns a Cipher drawing master keys from source.
func NewCipher(source MasterKeySource) *Cipher {
	return &Cipher{source: source}
}

// Encrypt seals plaintext under a fresh salt and nonce using the
// default KDF for new envelopes.
func (c *Cipher) Encrypt(plaintext []byte) (*Envelope, error) {
	return c.EncryptWith(plaintext, DefaultKDF())
}

// EncryptWith seals plaintext under an explicit KDF configuration.
func (c *Cipher) EncryptWith(plaintext []byte, cfg KDFConfig) (*Envelope, error) {
	return encryptWith(c.source, plaintext, cfg)
}

// Decrypt opens an envelope, deriving the per-record key from the
// envelope's own salt and KDF metadata. An authenticator mismatch
// yields a DecryptionError with ReasonTampered.
func (c *Cipher) Decrypt(e *Envelope) ([]byte, error) {
	return decryptWith(c.source, e)
}

// ReEncrypt decrypts an envelope under oldSource and seals the
// plaintext again under newSource with the current default KDF. The
// sources are explicit parameters, so no process-wide key state is
// touched on any exit path.
func (c *Cipher) ReEncrypt(e *Envelope, oldSource, newSource MasterKeySource) (*Envelope, error) {
	return c.ReEncryptWith(e, oldSource, newSource, DefaultKDF())
}

// ReEncryptWith is ReEncrypt with an explicit KDF for the new envelope.
func (c *Cipher) ReEncryptWith(e *Envelope, oldSource, newSource MasterKeySource, cfg KDFConfig) (*Envelope, error) {
	plaintext, err := decryptWith(oldSource, e)
	if err != nil {
		return nil, err
	}
	defer ClearBytes(plaintext)
	return encryptWith(newSource, plaintext, cfg)
}

// KeyHash returns the SHA-256 of the current master key as hex. Used to
// identify which master key encrypted a record; the key itself is
// never persisted.
func (c *Cipher) KeyHash() (string, error) {
	key, err := c.source.MasterKey()
	if err != nil {
		return "", err
	}
	defer ClearBytes(key)
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:]), nil
}

func encryptWith(source MasterKeySource, plaintext []byte, cfg KDFConfig) (*Envelope, error) {
	masterKey, err := source.MasterKey()
	if err != nil {
		return nil, err
	}
	defer ClearBytes(masterKey)

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, &EncryptionError{Reason: ReasonCipherFailure, Err: fmt.Errorf("failed to generate salt: %w", err)}
	}

	key, err := DeriveKey(masterKey, salt, cfg)
	if err != nil {
		return nil, err
	}
	defer ClearBytes(key)

	gcm, err := newGCM(key, NonceLength)
	if err != nil {
		return nil, &EncryptionError{Reason: ReasonCipherFailure, Err: err}
	}

	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, &EncryptionError{Reason: ReasonCipherFailure, Err: fmt.Errorf("failed to generate nonce: %w", err)}
	}

	// Seal appends the 16-byte tag to the ciphertext; the envelope
	// stores them separately.
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-TagLength]
	tag := sealed[len(sealed)-TagLength:]

	params := cfg.Params
	return &Envelope{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		IV:             base64.StdEncoding.EncodeToString(nonce),
		AuthTag:        base64.StdEncoding.EncodeToString(tag),
		Salt:           base64.StdEncoding.EncodeToString(salt),
		KDFType:        cfg.Type,
		KDFParameters:  &params,
		KDFVersion:     EnvelopeVersion,
	}, nil
}

func decryptWith(source MasterKeySource, e *Envelope) ([]byte, error) {
	masterKey, err := source.MasterKey()
	if err != nil {
		return nil, err
	}
	defer ClearBytes(masterKey)

	ciphertext, err := decodeField(e.EncryptedValue, "encryptedValue")
	if err != nil {
		return nil, err
	}
	nonce, err := decodeField(e.IV, "iv")
	if err != nil {
		return nil, err
	}
	tag, err := decodeField(e.AuthTag, "authTag")
	if err != nil {
		return nil, err
	}
	salt, err := decodeField(e.Salt, "salt")
	if err != nil {
		return nil, err
	}

	if len(tag) != TagLength {
		return nil, &DecryptionError{Reason: ReasonMalformedEnvelope, Err: fmt.Errorf("authTag is %d bytes, want %d", len(tag), TagLength)}
	}

	key, err := DeriveKey(masterKey, salt, e.KDFConfig())
	if err != nil {
		return nil, &DecryptionError{Reason: ReasonMalformedEnvelope, Err: err}
	}
	defer ClearBytes(key)

	// Legacy writers used 16-byte IVs; size the GCM instance to match.
	gcm, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, &DecryptionError{Reason: ReasonMalformedEnvelope, Err: err}
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, &DecryptionError{Reason: ReasonTampered, Err: err}
	}
	return plaintext, nil
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if nonceSize == NonceLength {
		return cipher.NewGCM(block)
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

func decodeField(value, name string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, &DecryptionError{Reason: ReasonMalformedEnvelope, Err: fmt.Errorf("invalid base64 in %s: %w", name, err)}
	}
	return data, nil
}

// ClearBytes zeros a byte slice. The ConstantTimeCompare call acts as a
// compiler barrier so the zeroing is not optimized away.
func ClearBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
	dummy := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, dummy)
}
