package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:     "delete <credential-id>",
	GroupID: "credentials",
	Short:   "Hard-delete a credential and its history",
	Long: `Delete permanently removes the credential row. Access policies and audit
entries cascade with it, so the forensic history is lost. Reserve this for
erasure requests; use revoke for normal decommissioning.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	if !deleteForce {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s This permanently deletes the credential, its policies and its audit history.\n", yellow("Warning:"))
		answer, err := readLine("Type 'delete' to confirm: ")
		if err != nil || strings.TrimSpace(answer) != "delete" {
			return fmt.Errorf("aborted")
		}
	}

	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Credentials().Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
