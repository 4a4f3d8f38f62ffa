package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var policiesExpiringDays int

var policiesCmd = &cobra.Command{
	Use:     "policies <credential-id>",
	GroupID: "access",
	Short:   "List access policies on a credential",
	Args:    cobra.ExactArgs(1),
	RunE:    runPolicies,
}

var expiringCmd = &cobra.Command{
	Use:     "expiring",
	GroupID: "access",
	Short:   "List policies expiring soon",
	RunE:    runExpiring,
}

func init() {
	rootCmd.AddCommand(policiesCmd)
	rootCmd.AddCommand(expiringCmd)
	expiringCmd.Flags().IntVar(&policiesExpiringDays, "days", 7, "look-ahead window in days")
}

func runPolicies(cmd *cobra.Command, args []string) error {
	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	policies, err := svc.Access().GetAccessPolicies(args[0])
	if err != nil {
		return err
	}
	if len(policies) == 0 {
		fmt.Println("No policies found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Policy", "Entity", "Type", "Level", "Granted", "Expires"})
	var data [][]string
	for _, p := range policies {
		expires := "never"
		if p.ExpiresAt != nil {
			expires = p.ExpiresAt.Format("2006-01-02 15:04")
		}
		data = append(data, []string{
			truncate(p.ID, 36),
			p.EntityID,
			string(p.EntityType),
			string(p.AccessLevel),
			formatRelativeTime(p.GrantedAt),
			expires,
		})
	}
	_ = table.Bulk(data)
	_ = table.Render()
	return nil
}

func runExpiring(cmd *cobra.Command, args []string) error {
	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	policies, err := svc.Access().GetPoliciesExpiringSoon(policiesExpiringDays)
	if err != nil {
		return err
	}
	if len(policies) == 0 {
		fmt.Printf("No policies expire within %d day(s).\n", policiesExpiringDays)
		return nil
	}
	for _, p := range policies {
		fmt.Printf("%s  %s/%s  %s  expires %s\n",
			p.CredentialID, p.EntityType, p.EntityID, p.AccessLevel, p.ExpiresAt.Format("2006-01-02 15:04"))
	}
	return nil
}
