package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/firecloud"
)

// RegisterWorkspaceCommands adds workspace management commands to the root.
func RegisterWorkspaceCommands(root *cobra.Command) {
	wsCmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		Short:   "Manage Terra workspaces",
	}

	wsCmd.AddCommand(newWorkspaceListCmd())
	wsCmd.AddCommand(newWorkspaceGetCmd())
	wsCmd.AddCommand(newWorkspaceCreateCmd())
	wsCmd.AddCommand(newWorkspaceDeleteCmd())
	wsCmd.AddCommand(newWorkspaceSetAttributesCmd())
	wsCmd.AddCommand(newWorkspaceCostCmd())
	wsCmd.AddCommand(newWorkspaceACLCmd())
	wsCmd.AddCommand(newWorkspaceComputesCmd())

	root.AddCommand(wsCmd)
}

func newWorkspaceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [namespace]",
		Short: "List workspaces in a billing project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				ns := c.Project()
				if len(args) == 1 {
					ns = args[0]
				}
				workspaces, err := c.Workspaces(ctx, ns)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(workspaces)
				}
				if len(workspaces) == 0 {
					fmt.Printf("No workspaces in %s.\n", ns)
					return nil
				}

				w := newTable()
				fmt.Fprintln(w, "NAME\tACCESS\tBUCKET\tCREATED BY")
				for _, ws := range workspaces {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						ws.Workspace.Name, ws.AccessLevel, ws.Workspace.BucketName, ws.Workspace.CreatedBy)
				}
				return w.Flush()
			})
		},
	}
}

func newWorkspaceGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <namespace/name>",
		Short: "Show a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				ws, err := c.Workspace(ctx, ns, name)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(ws)
				}
				fmt.Printf("Workspace:     %s/%s\n", ws.Workspace.Namespace, ws.Workspace.Name)
				fmt.Printf("ID:            %s\n", ws.Workspace.WorkspaceID)
				fmt.Printf("Bucket:        %s\n", ws.Workspace.BucketName)
				fmt.Printf("Access level:  %s\n", ws.AccessLevel)
				fmt.Printf("Can compute:   %s\n", yesNo(ws.CanCompute))
				fmt.Printf("Created by:    %s (%s)\n", ws.Workspace.CreatedBy, ws.Workspace.CreatedDate)
				if len(ws.Owners) > 0 {
					fmt.Printf("Owners:        %s\n", strings.Join(ws.Owners, ", "))
				}
				return nil
			})
		},
	}
}

func newWorkspaceCreateCmd() *cobra.Command {
	var authDomains []string

	cmd := &cobra.Command{
		Use:   "create <namespace/name>",
		Short: "Create a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := engine.Scope.CheckNamespace(ns); err != nil {
					return err
				}
				ws, err := c.CreateWorkspace(ctx, ns, name, authDomains...)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(ws)
				}
				fmt.Printf("Workspace %s/%s created.\n", ws.Namespace, ws.Name)
				fmt.Printf("  Bucket: %s\n", ws.BucketName)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&authDomains, "auth-domain", nil, "Authorization domain group (repeatable)")
	return cmd
}

func newWorkspaceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <namespace/name>",
		Short: "Delete a workspace and its bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := engine.Scope.CheckNamespace(ns); err != nil {
					return err
				}
				if err := c.DeleteWorkspace(ctx, ns, name); err != nil {
					return err
				}
				fmt.Printf("Workspace %s/%s deleted.\n", ns, name)
				return nil
			})
		},
	}
}

func newWorkspaceSetAttributesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-attributes <namespace/name> <key=value>...",
		Short: "Set workspace attributes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			attrs, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			values := make(map[string]any, len(attrs))
			for k, v := range attrs {
				values[k] = v
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := engine.Scope.CheckNamespace(ns); err != nil {
					return err
				}
				ws, err := c.SetWorkspaceAttributes(ctx, ns, name, values)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(ws)
				}
				fmt.Printf("Updated %d attribute(s) on %s/%s.\n", len(values), ns, name)
				return nil
			})
		},
	}
}

func newWorkspaceCostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "storage-cost <namespace/name>",
		Short: "Estimate monthly storage cost of the workspace bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				est, err := c.WorkspaceStorageCost(ctx, ns, name)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(est)
				}
				fmt.Println(est.Estimate)
				return nil
			})
		},
	}
}

func newWorkspaceACLCmd() *cobra.Command {
	aclCmd := &cobra.Command{
		Use:   "acl",
		Short: "Read and update workspace ACLs",
	}
	aclCmd.AddCommand(newWorkspaceACLGetCmd())
	aclCmd.AddCommand(newWorkspaceACLSetCmd())
	return aclCmd
}

func newWorkspaceACLGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <namespace/name>...",
		Short: "Show the ACL of one or more workspaces",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			byNamespace := map[string][]string{}
			for _, arg := range args {
				ns, name, err := splitWorkspace(arg)
				if err != nil {
					return err
				}
				byNamespace[ns] = append(byNamespace[ns], name)
			}

			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				all := map[string]*firecloud.WorkspaceACL{}
				for ns, names := range byNamespace {
					acls, err := firecloud.FetchWorkspaceACLs(ctx, c, ns, names, engine.Config.ACLWorkers)
					if err != nil {
						return err
					}
					for name, acl := range acls {
						all[ns+"/"+name] = acl
					}
				}
				if jsonOutput {
					return printJSON(all)
				}

				w := newTable()
				fmt.Fprintln(w, "WORKSPACE\tUSER\tACCESS\tSHARE\tCOMPUTE\tPENDING")
				for _, key := range sortedKeys(all) {
					acl := all[key]
					for _, email := range sortedKeys(acl.ACL) {
						g := acl.ACL[email]
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
							key, email, g.AccessLevel, yesNo(g.CanShare), yesNo(g.CanCompute), yesNo(g.Pending))
					}
				}
				return w.Flush()
			})
		},
	}
}

func newWorkspaceACLSetCmd() *cobra.Command {
	var (
		canShare   bool
		canCompute bool
	)

	cmd := &cobra.Command{
		Use:   "set <namespace/name> <email> <access-level>",
		Short: "Grant a user an access level (OWNER, READER, WRITER, NO ACCESS)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			entries, err := firecloud.NewWorkspaceACL(args[1], strings.ToUpper(args[2]), canShare, canCompute)
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if canCompute {
					if err := engine.Scope.CheckCompute(ns); err != nil {
						return err
					}
				} else if err := engine.Scope.CheckNamespace(ns); err != nil {
					return err
				}
				result, err := c.UpdateWorkspaceACL(ctx, ns, name, entries)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(result)
				}
				fmt.Printf("ACL updated on %s/%s.\n", ns, name)
				fmt.Printf("  Users updated:   %d\n", len(result.UsersUpdated))
				fmt.Printf("  Invites sent:    %d\n", len(result.InvitesSent))
				fmt.Printf("  Users not found: %d\n", len(result.UsersNotFound))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&canShare, "can-share", false, "Allow the user to share the workspace")
	cmd.Flags().BoolVar(&canCompute, "can-compute", false, "Allow the user to launch workflows")
	return cmd
}

func newWorkspaceComputesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "computes <email>",
		Short: "Show a user's grants on every workspace of the portal project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
				computes, err := engine.ProjectWorkspaceComputes(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(computes)
				}
				w := newTable()
				fmt.Fprintln(w, "WORKSPACE\tACCESS\tCOMPUTE")
				for _, wc := range computes {
					fmt.Fprintf(w, "%s\t%s\t%s\n", wc.Workspace, wc.AccessLevel, yesNo(wc.CanCompute))
				}
				return w.Flush()
			})
		},
	}
}
