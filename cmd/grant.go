package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skillbank/credvault/internal/vault"
)

var (
	grantEntityType string
	grantLevel      string
	grantExpiresIn  time.Duration
	grantBy         string
	grantReason     string
)

var grantCmd = &cobra.Command{
	Use:     "grant <credential-id> <entity-id>",
	GroupID: "access",
	Short:   "Grant an entity access to a credential",
	Long: `Grant upserts an access policy for (credential, entity, entity type).
Re-granting replaces the previous policy, including its level and expiry.`,
	Example: `  # Read access, no expiry
  credvault grant <credential-id> payment_skill --entity-type skill

  # Write access expiring in 30 days
  credvault grant <credential-id> deploy_tool --entity-type tool --level write --expires-in 720h`,
	Args: cobra.ExactArgs(2),
	RunE: runGrant,
}

func init() {
	rootCmd.AddCommand(grantCmd)
	grantCmd.Flags().StringVar(&grantEntityType, "entity-type", "skill", "entity type: skill or tool")
	grantCmd.Flags().StringVar(&grantLevel, "level", "read", "access level: read, write, admin")
	grantCmd.Flags().DurationVar(&grantExpiresIn, "expires-in", 0, "grant lifetime (0 = no expiry)")
	grantCmd.Flags().StringVar(&grantBy, "granted-by", "", "user recorded as the grantor")
	grantCmd.Flags().StringVar(&grantReason, "reason", "", "reason for the grant")
}

func runGrant(cmd *cobra.Command, args []string) error {
	entityType, err := parseEntityType(grantEntityType)
	if err != nil {
		return err
	}
	level, err := parseAccessLevel(grantLevel)
	if err != nil {
		return err
	}

	opts := vault.GrantOptions{
		AccessLevel: level,
		GrantedBy:   grantBy,
		Reason:      grantReason,
	}
	if grantExpiresIn > 0 {
		expires := time.Now().Add(grantExpiresIn)
		opts.ExpiresAt = &expires
	}

	svc, err := openVault()
	if err != nil {
		return err
	}
	defer svc.Close()

	policyID, err := svc.Access().GrantAccess(args[0], args[1], entityType, opts)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Granted %s to %s %q (policy %s)\n", green("✓"), level, entityType, args[1], policyID)
	return nil
}
