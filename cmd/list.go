package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/skillbank/credvault/internal/vault"
)

var (
	listFormat      string
	listService     string
	listType        string
	listEnvironment string
	listStatus      string
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "credentials",
	Short:   "List credential metadata",
	Long: `List displays stored credentials with metadata only; encrypted values are
never shown.

Output formats:
  table    Display as formatted table (default)
  json     Output as JSON array
  simple   One name per line`,
	Example: `  # All credentials
  credvault list

  # Active production credentials for one service
  credvault list --service stripe --env production --status active

  # JSON output
  credvault list --format json`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format: table, json, simple")
	listCmd.Flags().StringVar(&listService, "service", "", "filter by service")
	listCmd.Flags().StringVar(&listType, "type", "", "filter by credential type")
	listCmd.Flags().StringVar(&listEnvironment, "env", "", "filter by environment")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status: active, rotated, revoked")
}

func runList(cmd *cobra.Command, args []string) error {
	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	creds, err := svc.Credentials().List(vault.ListFilter{
		Service:     listService,
		Type:        vault.CredentialType(listType),
		Environment: listEnvironment,
		Status:      vault.CredentialStatus(listStatus),
	})
	if err != nil {
		return err
	}

	switch listFormat {
	case "json":
		out, err := json.MarshalIndent(creds, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "simple":
		for _, c := range creds {
			fmt.Println(c.Name)
		}
	default:
		outputCredentialTable(creds)
	}
	return nil
}

func outputCredentialTable(creds []vault.Credential) {
	if len(creds) == 0 {
		fmt.Println("No credentials found.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"ID", "Name", "Env", "Service", "Type", "Status", "Created"})

	var data [][]string
	for _, c := range creds {
		data = append(data, []string{
			truncate(c.ID, 34),
			c.Name,
			c.Environment,
			c.Service,
			string(c.Type),
			string(c.Status),
			formatRelativeTime(c.CreatedAt),
		})
	}
	_ = table.Bulk(data)
	_ = table.Render()

	fmt.Printf("\nTotal: %d credential(s)\n", len(creds))
}
