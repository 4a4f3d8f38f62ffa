package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	revokeReason    string
	revokeAllAccess bool
)

var revokeCmd = &cobra.Command{
	Use:     "revoke <credential-id>",
	GroupID: "credentials",
	Short:   "Revoke a credential (soft delete)",
	Long: `Revoke marks the credential revoked. It stays visible to metadata queries
and audit but can no longer be retrieved. Existing access policies are kept
unless --all-access is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runRevoke,
}

func init() {
	rootCmd.AddCommand(revokeCmd)
	revokeCmd.Flags().StringVar(&revokeReason, "reason", "", "reason recorded in credential metadata")
	revokeCmd.Flags().BoolVar(&revokeAllAccess, "all-access", false, "also delete every access policy on the credential")
}

func runRevoke(cmd *cobra.Command, args []string) error {
	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Credentials().Revoke(args[0], revokeReason); err != nil {
		return err
	}
	fmt.Printf("Revoked %s\n", args[0])

	if revokeAllAccess {
		n, err := svc.Access().RevokeAllAccess(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d access polic(y/ies)\n", n)
	}
	return nil
}
