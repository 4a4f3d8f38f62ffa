package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skillbank/credvault/internal/vault"
)

var (
	storeType        string
	storeService     string
	storeEnvironment string
	storeKey         string
	storeUser        string
	storeValueJSON   string
)

var storeCmd = &cobra.Command{
	Use:     "store <name>",
	GroupID: "credentials",
	Short:   "Encrypt and store a new credential",
	Long: `Store encrypts a credential value and inserts it into the vault.

The (name, environment) pair is unique; storing a duplicate fails.

Simple types can be entered via flags and prompts:
  api_key      --key plus a prompted secret
  basic_auth   --user plus a prompted password

Any type can be supplied as raw JSON with --value-json, e.g.
  --value-json '{"host":"db.internal","port":5432,...}' for db_connection.`,
	Example: `  # Store an API key (secret prompted)
  credvault store stripe_production --type api_key --service stripe --key sk_live_abc

  # Store basic auth for staging
  credvault store grafana_admin --type basic_auth --service grafana --env staging --user admin

  # Store a database connection from JSON
  credvault store orders_db --type db_connection --service postgres \
    --value-json '{"host":"db.internal","port":5432,"database":"orders","user":"app","password":"s3cret"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runStore,
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.Flags().StringVarP(&storeType, "type", "t", "api_key", "credential type: api_key, oauth_token, basic_auth, db_connection, ssh_key, custom")
	storeCmd.Flags().StringVarP(&storeService, "service", "s", "", "service this credential belongs to (required)")
	storeCmd.Flags().StringVarP(&storeEnvironment, "env", "e", "production", "environment: dev, staging, production")
	storeCmd.Flags().StringVar(&storeKey, "key", "", "api_key: key identifier")
	storeCmd.Flags().StringVar(&storeUser, "user", "", "basic_auth: username")
	storeCmd.Flags().StringVar(&storeValueJSON, "value-json", "", "raw JSON credential value (any type)")
	_ = storeCmd.MarkFlagRequired("service")
}

func runStore(cmd *cobra.Command, args []string) error {
	name := args[0]
	typ := vault.CredentialType(storeType)
	if !typ.Valid() {
		return fmt.Errorf("invalid credential type %q", storeType)
	}

	value, err := buildValue(typ)
	if err != nil {
		return err
	}

	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	id, err := svc.Credentials().Store(name, typ, storeService, value, vault.StoreOptions{
		Environment: storeEnvironment,
	})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Stored credential %s (%s/%s)\n", green("✓"), id, storeEnvironment, name)
	return nil
}

func buildValue(typ vault.CredentialType) (vault.CredentialValue, error) {
	if storeValueJSON != "" {
		return vault.DecodeValue(typ, []byte(storeValueJSON))
	}

	switch typ {
	case vault.TypeAPIKey:
		key := storeKey
		if key == "" {
			var err error
			key, err = readSecret("API key: ")
			if err != nil {
				return nil, err
			}
		}
		secret, err := readSecret("Secret (optional, enter to skip): ")
		if err != nil {
			secret = ""
		}
		return vault.APIKeyValue{Key: key, Secret: secret}, nil
	case vault.TypeBasicAuth:
		if storeUser == "" {
			return nil, fmt.Errorf("--user is required for basic_auth")
		}
		password, err := readSecret("Password: ")
		if err != nil {
			return nil, err
		}
		return vault.BasicAuthValue{User: storeUser, Password: password}, nil
	default:
		return nil, fmt.Errorf("type %s requires --value-json", typ)
	}
}
