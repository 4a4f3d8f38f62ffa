package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/skillbank/credvault/internal/crypto"
)

// Config represents the root configuration object containing all user
// settings.
type Config struct {
	// DatabasePath is the SQLite file holding the vault.
	DatabasePath string `mapstructure:"database_path"`

	// DatabaseKey is an optional SQLCipher passphrase for the file.
	DatabaseKey string `mapstructure:"database_key"`

	// DefaultKDF selects the KDF for new envelopes: pbkdf2 or
	// argon2id. Empty defers to the DEFAULT_KDF_TYPE environment
	// variable and its argon2id fallback.
	DefaultKDF string `mapstructure:"default_kdf"`

	Argon2 Argon2Config `mapstructure:"argon2"`

	// KeySource selects where the master key is read from: "env"
	// (MASTER_ENCRYPTION_KEY) or "keyring" (the OS keychain).
	KeySource string `mapstructure:"key_source"`

	// KeyringService and KeyringUser identify the OS keychain entry
	// when KeySource is "keyring".
	KeyringService string `mapstructure:"keyring_service"`
	KeyringUser    string `mapstructure:"keyring_user"`

	// AuditRetentionDays is the cutoff used by the cleanup command.
	AuditRetentionDays int `mapstructure:"audit_retention_days"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Argon2Config tunes Argon2id for hosts where the 64 MiB default is too
// heavy. Zero values keep the defaults.
type Argon2Config struct {
	MemoryKiB   uint32 `mapstructure:"memory_kib"`
	Time        uint32 `mapstructure:"time"`
	Parallelism uint8  `mapstructure:"parallelism"`
}

// ValidationResult represents the outcome of checking configuration
// correctness.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError represents a validation error with context.
type ValidationError struct {
	Field   string
	Message string
}

// GetDefaults returns the default configuration.
func GetDefaults() *Config {
	return &Config{
		DatabasePath:       defaultDatabasePath(),
		KeySource:          "env",
		KeyringService:     "credvault",
		KeyringUser:        "master-key",
		AuditRetentionDays: 90,
		LogLevel:           "info",
	}
}

// KDFConfig translates the default_kdf and argon2 settings into the
// override handed to the vault. Nil means no override: the
// DEFAULT_KDF_TYPE environment selection applies. The argon2 block
// only takes effect when default_kdf is argon2id.
func (c *Config) KDFConfig() *crypto.KDFConfig {
	switch c.DefaultKDF {
	case "pbkdf2":
		cfg := crypto.PBKDF2Defaults()
		return &cfg
	case "argon2id":
		cfg := crypto.Argon2idDefaults()
		if c.Argon2.MemoryKiB > 0 {
			cfg.Params.MemoryCost = c.Argon2.MemoryKiB
		}
		if c.Argon2.Time > 0 {
			cfg.Params.TimeCost = c.Argon2.Time
		}
		if c.Argon2.Parallelism > 0 {
			cfg.Params.Parallelism = c.Argon2.Parallelism
		}
		return &cfg
	default:
		return nil
	}
}

// KeySourceProvider builds the master-key source the config names.
func (c *Config) KeySourceProvider() crypto.MasterKeySource {
	if c.KeySource == "keyring" {
		return &crypto.KeyringSource{Service: c.KeyringService, User: c.KeyringUser}
	}
	return crypto.NewEnvSource()
}

// GetConfigPath returns the config file path, honoring the
// CREDVAULT_CONFIG override.
func GetConfigPath() (string, error) {
	if envPath := os.Getenv("CREDVAULT_CONFIG"); envPath != "" {
		return envPath, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine config directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".credvault")
	} else {
		configDir = filepath.Join(configDir, "credvault")
	}

	return filepath.Join(configDir, "config.yml"), nil
}

// Load reads the config file if present and merges it over defaults.
// A missing file is not an error; a malformed one is reported through
// the validation result.
func Load() (*Config, ValidationResult) {
	cfg := GetDefaults()
	result := ValidationResult{Valid: true}

	path, err := GetConfigPath()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Field: "config", Message: err.Error()})
		return cfg, result
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CREDVAULT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			return cfg, result
		}
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Field: "config", Message: fmt.Sprintf("failed to read %s: %v", path, err)})
		return cfg, result
	}

	if err := v.Unmarshal(cfg); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Field: "config", Message: fmt.Sprintf("failed to parse %s: %v", path, err)})
		return cfg, result
	}

	cfg.Validate(&result)
	return cfg, result
}

// Validate appends any field-level problems to result.
func (c *Config) Validate(result *ValidationResult) {
	if c.DatabasePath == "" {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Field: "database_path", Message: "must not be empty"})
	}
	switch c.DefaultKDF {
	case "", "pbkdf2", "argon2id":
	default:
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Field: "default_kdf", Message: fmt.Sprintf("unknown KDF %q (want pbkdf2 or argon2id)", c.DefaultKDF)})
	}
	switch c.KeySource {
	case "", "env", "keyring":
	default:
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Field: "key_source", Message: fmt.Sprintf("unknown source %q (want env or keyring)", c.KeySource)})
	}
	if c.AuditRetentionDays < 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Field: "audit_retention_days", Message: "must not be negative"})
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Field: "log_level", Message: fmt.Sprintf("unknown level %q", c.LogLevel)})
	}
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".credvault/vault.db"
	}
	return filepath.Join(home, ".credvault", "vault.db")
}
