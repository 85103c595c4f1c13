package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/firecloud"
)

// RegisterBillingCommands adds billing project commands.
func RegisterBillingCommands(root *cobra.Command) {
	billingCmd := &cobra.Command{
		Use:   "billing",
		Short: "Manage billing projects",
	}

	billingCmd.AddCommand(newBillingProjectsCmd())
	billingCmd.AddCommand(newBillingAccountsCmd())
	billingCmd.AddCommand(newBillingCreateCmd())
	billingCmd.AddCommand(newBillingMembersCmd())
	billingCmd.AddCommand(newBillingMemberCmd("add", "Grant a user a role on a billing project"))
	billingCmd.AddCommand(newBillingMemberCmd("remove", "Revoke a user's role on a billing project"))

	root.AddCommand(billingCmd)
}

func newBillingProjectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List billing projects of the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				projects, err := c.BillingProjects(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(projects)
				}
				w := newTable()
				fmt.Fprintln(w, "PROJECT\tROLE\tSTATUS\tIN SCOPE")
				for _, p := range projects {
					inScope := engine.Scope.CheckNamespace(p.ProjectName) == nil
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ProjectName, p.Role, p.CreationStatus, yesNo(inScope))
				}
				return w.Flush()
			})
		},
	}
}

func newBillingAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List Google billing accounts of the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				accounts, err := c.BillingAccounts(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(accounts)
				}
				w := newTable()
				fmt.Fprintln(w, "ACCOUNT\tNAME\tFIRECLOUD ACCESS")
				for _, a := range accounts {
					fmt.Fprintf(w, "%s\t%s\t%s\n", a.AccountName, a.DisplayName, yesNo(a.FirecloudHasAccess))
				}
				return w.Flush()
			})
		},
	}
}

func newBillingCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <project> <billing-account>",
		Short: "Create a billing project (account as " + firecloud.BillingAccountPrefix + "XXXXXX-XXXXXX-XXXXXX)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := engine.Scope.CheckNamespace(args[0]); err != nil {
					return err
				}
				if err := c.CreateBillingProject(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("Billing project %s requested.\n", args[0])
				return nil
			})
		},
	}
}

func newBillingMembersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members <project>",
		Short: "List members of a billing project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				members, err := c.BillingProjectMembers(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(members)
				}
				w := newTable()
				fmt.Fprintln(w, "EMAIL\tROLE")
				for _, m := range members {
					fmt.Fprintf(w, "%s\t%s\n", m.Email, m.Role)
				}
				return w.Flush()
			})
		},
	}
}

func newBillingMemberCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <project> <role> <email>",
		Short: short + " (roles: " + strings.Join(firecloud.BillingProjectRoles, ", ") + ")",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := engine.Scope.CheckNamespace(args[0]); err != nil {
					return err
				}
				var err error
				if action == "add" {
					err = c.AddBillingProjectMember(ctx, args[0], args[1], args[2])
				} else {
					err = c.RemoveBillingProjectMember(ctx, args[0], args[1], args[2])
				}
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s %s on %s.\n", action, args[2], args[1], args[0])
				return nil
			})
		},
	}
}
