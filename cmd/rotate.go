package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skillbank/credvault/internal/vault"
)

var rotateValueJSON string

var rotateCmd = &cobra.Command{
	Use:     "rotate <credential-id>",
	GroupID: "credentials",
	Short:   "Replace a credential's value",
	Long: `Rotate re-encrypts the credential with a new value under the current
default key-derivation function, so rotating a PBKDF2-era record also
upgrades it to Argon2id. The old value becomes unrecoverable.`,
	Example: `  credvault rotate <credential-id> --value-json '{"key":"sk_live_new"}'`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRotate,
}

func init() {
	rootCmd.AddCommand(rotateCmd)
	rotateCmd.Flags().StringVar(&rotateValueJSON, "value-json", "", "new credential value as JSON (required)")
	_ = rotateCmd.MarkFlagRequired("value-json")
}

func runRotate(cmd *cobra.Command, args []string) error {
	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	meta, err := svc.Credentials().GetMetadata(args[0])
	if err != nil {
		return err
	}
	value, err := vault.DecodeValue(meta.Type, []byte(rotateValueJSON))
	if err != nil {
		return err
	}

	if err := svc.Credentials().Rotate(args[0], value); err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Rotated %s (%s)\n", green("✓"), meta.Name, args[0])
	return nil
}
