package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/skillbank/credvault/internal/vault"
)

var (
	auditCredential  string
	auditEntity      string
	auditEntityType  string
	auditUser        string
	auditAction      string
	auditSince       time.Duration
	auditSuccessOnly bool
	auditLimit       int
	auditFormat      string
	auditSummary     bool
)

var auditCmd = &cobra.Command{
	Use:     "audit",
	GroupID: "audit",
	Short:   "Query the audit log",
	Long: `Audit queries the append-only audit log, newest entries first.

With --summary, prints aggregate counts instead of individual entries.`,
	Example: `  # Last 100 events
  credvault audit

  # Retrievals (successful and failed) for one credential in the last day
  credvault audit --credential <credential-id> --action retrieve --since 24h

  # Aggregate view
  credvault audit --summary`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringVar(&auditCredential, "credential", "", "filter by credential id")
	auditCmd.Flags().StringVar(&auditEntity, "entity", "", "filter by entity id")
	auditCmd.Flags().StringVar(&auditEntityType, "entity-type", "", "filter by entity type")
	auditCmd.Flags().StringVar(&auditUser, "user", "", "filter by user id")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "filter by action")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "only entries newer than this (e.g. 24h)")
	auditCmd.Flags().BoolVar(&auditSuccessOnly, "success-only", false, "only successful events")
	auditCmd.Flags().IntVar(&auditLimit, "limit", vault.DefaultRecentLimit, "maximum entries returned")
	auditCmd.Flags().StringVarP(&auditFormat, "format", "f", "table", "output format: table, json")
	auditCmd.Flags().BoolVar(&auditSummary, "summary", false, "print aggregate counts")
}

func runAudit(cmd *cobra.Command, args []string) error {
	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	if auditSummary {
		return printAuditSummary(svc)
	}

	filter := vault.AuditFilter{
		CredentialID: auditCredential,
		EntityID:     auditEntity,
		EntityType:   vault.EntityType(auditEntityType),
		UserID:       auditUser,
		Action:       vault.Action(auditAction),
		SuccessOnly:  auditSuccessOnly,
		Limit:        auditLimit,
	}
	if auditSince > 0 {
		since := time.Now().Add(-auditSince)
		filter.Since = &since
	}

	entries, err := svc.Audit().Query(filter)
	if err != nil {
		return err
	}

	if auditFormat == "json" {
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	red := color.New(color.FgRed).SprintFunc()
	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Time", "Action", "Credential", "Entity", "Result", "Error"})
	var data [][]string
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = red("FAIL")
		}
		data = append(data, []string{
			e.Timestamp.Format("2006-01-02 15:04:05"),
			string(e.Action),
			truncate(e.CredentialID, 30),
			fmt.Sprintf("%s/%s", e.EntityType, e.EntityID),
			result,
			truncate(e.ErrorMessage, 40),
		})
	}
	_ = table.Bulk(data)
	_ = table.Render()
	return nil
}

func printAuditSummary(svc *vault.Service) error {
	summary, err := svc.Audit().GetSummary()
	if err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("%s %d\n", bold("Total events:"), summary.Total)
	fmt.Printf("%s %d\n", bold("Failed accesses:"), summary.FailedAccess)
	if summary.LastAccessAt != nil {
		fmt.Printf("%s %s\n", bold("Last access:"), summary.LastAccessAt.Format(time.RFC3339))
	}

	fmt.Printf("\n%s\n", bold("By action:"))
	for action, n := range summary.ByAction {
		fmt.Printf("  %-14s %d\n", action, n)
	}
	fmt.Printf("\n%s\n", bold("By entity:"))
	for entity, n := range summary.ByEntity {
		fmt.Printf("  %-24s %d\n", entity, n)
	}

	stats, err := svc.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("\n%s %d credentials (%d active), %d policies, %d audit rows\n",
		bold("Vault:"), stats.Credentials, stats.Active, stats.Policies, stats.AuditRows)
	return nil
}
