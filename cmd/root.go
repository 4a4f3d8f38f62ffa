package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skillbank/credvault/internal/config"
	"github.com/skillbank/credvault/internal/log"
)

var (
	cfgFile string
	verbose bool

	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"

	rootCmd = &cobra.Command{
		Use:   "credvault",
		Short: "A local encrypted vault for service credentials",
		Long: `Credvault is a local, embedded secret store. Credentials are encrypted
at rest with AES-256-GCM under per-record keys derived from a master key,
retrieval is gated by per-entity access policies, and every lifecycle and
access event lands in an append-only audit log.

The master key is read from the MASTER_ENCRYPTION_KEY environment variable
(64 hex characters), or from the OS keychain with key_source: keyring in the
config file. New records are encrypted with Argon2id key derivation by
default; override with default_kdf in the config file or the
DEFAULT_KDF_TYPE environment variable.

Examples:
  # Store an API key for the stripe service
  credvault store stripe_production --type api_key --service stripe

  # Grant read access to a skill and retrieve as that skill
  credvault grant <credential-id> payment_skill --entity-type skill
  credvault get <credential-id> --entity payment_skill --entity-type skill

  # Inspect the audit trail
  credvault audit --credential <credential-id>`,
		PersistentPreRun: initLogging,
	}
)

// Execute runs the root command; on error it prints the error to
// stderr and exits with status 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is credvault/config.yml under the user config directory, e.g. $HOME/.config on Linux)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddGroup(
		&cobra.Group{ID: "credentials", Title: "Credential Operations:"},
		&cobra.Group{ID: "access", Title: "Access Control:"},
		&cobra.Group{ID: "audit", Title: "Audit & Maintenance:"},
	)
}

func initLogging(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	level := log.Level(cfg.LogLevel)
	if verbose {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: cfg.LogJSON})
}

func loadConfig() *config.Config {
	if cfgFile != "" {
		os.Setenv("CREDVAULT_CONFIG", cfgFile)
	}
	cfg, result := config.Load()
	if !result.Valid {
		fmt.Fprintf(os.Stderr, "Configuration validation failed:\n")
		for _, err := range result.Errors {
			fmt.Fprintf(os.Stderr, "  - %s: %s\n", err.Field, err.Message)
		}
		os.Exit(1)
	}
	return cfg
}
