package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skillbank/credvault/internal/vault"
)

var (
	getEntity     string
	getEntityType string
	getUser       string
	getQuiet      bool
)

var getCmd = &cobra.Command{
	Use:     "get <credential-id>",
	GroupID: "credentials",
	Short:   "Retrieve and decrypt a credential",
	Long: `Get retrieves a credential as the given entity. The entity must hold an
unexpired read policy on the credential; the attempt is recorded in the
audit log whether it succeeds or not.

With --quiet only the decrypted value JSON is printed, for scripting.`,
	Example: `  # Retrieve as a skill
  credvault get cred_1722500000000_a1b2c3d4e5f60718 --entity payment_skill --entity-type skill

  # Script-friendly output
  credvault get <credential-id> --entity ci_tool --entity-type tool --quiet`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringVar(&getEntity, "entity", "", "requesting entity id (required)")
	getCmd.Flags().StringVar(&getEntityType, "entity-type", "skill", "entity type: skill or tool")
	getCmd.Flags().StringVar(&getUser, "user", "", "user id recorded in the audit trail")
	getCmd.Flags().BoolVarP(&getQuiet, "quiet", "q", false, "print only the decrypted value JSON")
	_ = getCmd.MarkFlagRequired("entity")
}

func runGet(cmd *cobra.Command, args []string) error {
	entityType, err := parseEntityType(getEntityType)
	if err != nil {
		return err
	}

	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	cred, err := svc.Credentials().Retrieve(args[0], getEntity, entityType, vault.RetrieveOptions{
		UserID: getUser,
	})
	if err != nil {
		var denied *vault.AccessDeniedError
		if errors.As(err, &denied) {
			return fmt.Errorf("access denied: %s", denied.Reason)
		}
		return err
	}

	valueJSON, err := json.MarshalIndent(cred.Value, "", "  ")
	if err != nil {
		return err
	}

	if getQuiet {
		fmt.Println(string(valueJSON))
		return nil
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("%s %s (%s/%s)\n", bold("Credential:"), cred.Name, cred.Environment, cred.Service)
	fmt.Printf("%s %s\n", bold("Type:"), cred.Type)
	fmt.Fprintln(os.Stdout, string(valueJSON))
	return nil
}
