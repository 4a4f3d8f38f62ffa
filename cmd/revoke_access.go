package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var revokeAccessEntityType string

var revokeAccessCmd = &cobra.Command{
	Use:     "revoke-access <credential-id> <entity-id>",
	GroupID: "access",
	Short:   "Remove an entity's access policy",
	Args:    cobra.ExactArgs(2),
	RunE:    runRevokeAccess,
}

func init() {
	rootCmd.AddCommand(revokeAccessCmd)
	revokeAccessCmd.Flags().StringVar(&revokeAccessEntityType, "entity-type", "skill", "entity type: skill or tool")
}

func runRevokeAccess(cmd *cobra.Command, args []string) error {
	entityType, err := parseEntityType(revokeAccessEntityType)
	if err != nil {
		return err
	}

	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	removed, err := svc.Access().RevokeAccess(args[0], args[1], entityType)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("No policy found for %s %q on %s\n", entityType, args[1], args[0])
		return nil
	}
	fmt.Printf("Revoked access for %s %q on %s\n", entityType, args[1], args[0])
	return nil
}
