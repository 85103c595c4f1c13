package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/firecloud"
)

// RegisterGroupCommands adds user group commands.
func RegisterGroupCommands(root *cobra.Command) {
	groupCmd := &cobra.Command{
		Use:     "groups",
		Aliases: []string{"group"},
		Short:   "Manage user groups",
	}

	groupCmd.AddCommand(newGroupListCmd())
	groupCmd.AddCommand(newGroupGetCmd())
	groupCmd.AddCommand(newGroupCreateCmd())
	groupCmd.AddCommand(newGroupDeleteCmd())
	groupCmd.AddCommand(newGroupMemberCmd("add", "Add a user to a group"))
	groupCmd.AddCommand(newGroupMemberCmd("remove", "Remove a user from a group"))
	groupCmd.AddCommand(newGroupRequestAccessCmd())

	root.AddCommand(groupCmd)
}

func newGroupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups the caller belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				groups, err := c.Groups(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(groups)
				}
				w := newTable()
				fmt.Fprintln(w, "GROUP\tEMAIL\tROLE")
				for _, g := range groups {
					fmt.Fprintf(w, "%s\t%s\t%s\n", g.GroupName, g.GroupEmail, g.Role)
				}
				return w.Flush()
			})
		},
	}
}

func newGroupGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <group>",
		Short: "Show group admins and members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				g, err := c.Group(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(g)
				}
				fmt.Printf("Group:    %s <%s>\n", g.GroupName, g.GroupEmail)
				fmt.Printf("Admins:   %s\n", strings.Join(g.AdminsEmails, ", "))
				fmt.Printf("Members:  %s\n", strings.Join(g.MembersEmails, ", "))
				return nil
			})
		},
	}
}

func newGroupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <group>",
		Short: "Create a group owned by the caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				g, err := c.CreateGroup(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(g)
				}
				fmt.Printf("Group %s created (%s).\n", g.GroupName, g.GroupEmail)
				return nil
			})
		},
	}
}

func newGroupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <group>",
		Short: "Delete a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := c.DeleteGroup(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Group %s deleted.\n", args[0])
				return nil
			})
		},
	}
}

func newGroupMemberCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <group> <role> <email>",
		Short: short + " (roles: " + strings.Join(firecloud.GroupRoles, ", ") + ")",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				var err error
				if action == "add" {
					err = c.AddGroupMember(ctx, args[0], args[1], args[2])
				} else {
					err = c.RemoveGroupMember(ctx, args[0], args[1], args[2])
				}
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s %s in %s.\n", action, args[2], args[1], args[0])
				return nil
			})
		},
	}
}

func newGroupRequestAccessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request-access <group>",
		Short: "Ask the group admins for membership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := c.RequestGroupAccess(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Access to %s requested.\n", args[0])
				return nil
			})
		},
	}
}
