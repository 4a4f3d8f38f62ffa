package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skillbank/credvault/internal/vault"
)

var cleanupAuditDays int

var cleanupCmd = &cobra.Command{
	Use:     "cleanup",
	GroupID: "audit",
	Short:   "Remove expired policies and old audit entries",
	Long: `Cleanup deletes access policies past their expiry and audit entries older
than the retention window.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupAuditDays, "audit-days", 0, "audit retention in days (default from config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	days := cleanupAuditDays
	if days <= 0 {
		days = cfg.AuditRetentionDays
	}
	if days <= 0 {
		days = vault.DefaultRetentionDays
	}

	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	policies, err := svc.Access().CleanupExpiredPolicies()
	if err != nil {
		return err
	}
	entries, err := svc.Audit().CleanupOldEntries(days)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d expired polic(y/ies) and %d audit entr(y/ies) older than %d days\n", policies, entries, days)
	return nil
}
