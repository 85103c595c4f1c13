package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/firecloud"
)

// RegisterMethodCommands adds method repository commands.
func RegisterMethodCommands(root *cobra.Command) {
	methodsCmd := &cobra.Command{
		Use:     "methods",
		Aliases: []string{"method"},
		Short:   "Browse and publish methods in the method repository",
	}

	methodsCmd.AddCommand(newMethodListCmd())
	methodsCmd.AddCommand(newMethodGetCmd())
	methodsCmd.AddCommand(newMethodParametersCmd())
	methodsCmd.AddCommand(newMethodPublishCmd())
	methodsCmd.AddCommand(newMethodRedactCmd())
	methodsCmd.AddCommand(newMethodPermissionsCmd())

	root.AddCommand(methodsCmd)
}

func newMethodListCmd() *cobra.Command {
	var namespace, name string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List methods",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := map[string]string{}
			if namespace != "" {
				query["namespace"] = namespace
			}
			if name != "" {
				query["name"] = name
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				methods, err := c.Methods(ctx, query)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(methods)
				}
				w := newTable()
				fmt.Fprintln(w, "NAMESPACE\tNAME\tSNAPSHOT\tSYNOPSIS")
				for _, m := range methods {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.Namespace, m.Name, m.SnapshotID, m.Synopsis)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "", "Filter by namespace")
	cmd.Flags().StringVar(&name, "name", "", "Filter by name")
	return cmd
}

func newMethodGetCmd() *cobra.Command {
	var onlyPayload bool

	cmd := &cobra.Command{
		Use:   "get <namespace> <name> <snapshot>",
		Short: "Show a method snapshot",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := parseSnapshot(args[2])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				m, err := c.Method(ctx, args[0], args[1], snapshot, onlyPayload)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(m)
				}
				if onlyPayload {
					fmt.Println(m.Payload)
					return nil
				}
				fmt.Printf("Method:    %s/%s (snapshot %d)\n", m.Namespace, m.Name, m.SnapshotID)
				fmt.Printf("Synopsis:  %s\n", m.Synopsis)
				fmt.Printf("Owner:     %s\n", m.Owner)
				fmt.Printf("Public:    %s\n", yesNo(m.Public))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&onlyPayload, "payload", false, "Print only the WDL payload")
	return cmd
}

func newMethodParametersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parameters <namespace> <name> <snapshot>",
		Short: "List method inputs and outputs",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := parseSnapshot(args[2])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				params, err := c.MethodParameters(ctx, args[0], args[1], snapshot)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(params)
				}
				w := newTable()
				fmt.Fprintln(w, "KIND\tNAME\tTYPE\tOPTIONAL")
				for _, p := range params.Inputs {
					fmt.Fprintf(w, "input\t%s\t%s\t%s\n", p.Name, p.InputType, yesNo(p.Optional))
				}
				for _, p := range params.Outputs {
					fmt.Fprintf(w, "output\t%s\t%s\t\n", p.Name, p.OutputType)
				}
				return w.Flush()
			})
		},
	}
}

func newMethodPublishCmd() *cobra.Command {
	var synopsis string

	cmd := &cobra.Command{
		Use:   "publish <namespace> <name> <wdl-file>",
		Short: "Create a method snapshot and make it publicly readable",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			wdl, err := os.ReadFile(args[2])
			if err != nil {
				return fmt.Errorf("reading WDL: %w", err)
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				m, err := c.PublishMethod(ctx, args[0], args[1], synopsis, string(wdl))
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(m)
				}
				fmt.Printf("Published %s/%s snapshot %d.\n", m.Namespace, m.Name, m.SnapshotID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&synopsis, "synopsis", "", "Short description")
	return cmd
}

func newMethodRedactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redact <namespace> <name> <max-snapshot>",
		Short: "Delete every snapshot of a method up to max-snapshot",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxSnapshot, err := parseSnapshot(args[2])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := c.RedactMethod(ctx, args[0], args[1], maxSnapshot); err != nil {
					return err
				}
				fmt.Printf("Redacted %s/%s snapshots 1-%d.\n", args[0], args[1], maxSnapshot)
				return nil
			})
		},
	}
}

func newMethodPermissionsCmd() *cobra.Command {
	var grant string

	cmd := &cobra.Command{
		Use:   "permissions <namespace> [name snapshot]",
		Short: "Show or grant permissions on a method or method namespace",
		Long: `Show permissions of a method snapshot, or of a whole namespace when only the
namespace is given. --grant user=ROLE adds a grant (roles: OWNER, READER, NO ACCESS).`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return fmt.Errorf("expected <namespace> or <namespace> <name> <snapshot>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var acl []firecloud.MethodACLEntry
			if grant != "" {
				user, role, ok := strings.Cut(grant, "=")
				if !ok {
					return fmt.Errorf("--grant must be user=ROLE")
				}
				var err error
				if acl, err = firecloud.NewMethodACL(user, strings.ToUpper(role)); err != nil {
					return err
				}
			}

			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				var (
					entries []firecloud.MethodACLEntry
					err     error
				)
				switch {
				case len(args) == 1 && acl == nil:
					entries, err = c.MethodNamespacePermissions(ctx, args[0])
				case len(args) == 1:
					entries, err = c.UpdateMethodNamespacePermissions(ctx, args[0], acl)
				default:
					snapshot, perr := parseSnapshot(args[2])
					if perr != nil {
						return perr
					}
					if acl == nil {
						entries, err = c.MethodPermissions(ctx, args[0], args[1], snapshot)
					} else {
						entries, err = c.UpdateMethodPermissions(ctx, args[0], args[1], snapshot, acl)
					}
				}
				if err != nil {
					return err
				}
				return printMethodACL(entries)
			})
		},
	}

	cmd.Flags().StringVar(&grant, "grant", "", "Grant user=ROLE")
	return cmd
}

func printMethodACL(entries []firecloud.MethodACLEntry) error {
	if jsonOutput {
		return printJSON(entries)
	}
	w := newTable()
	fmt.Fprintln(w, "USER\tROLE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.User, e.Role)
	}
	return w.Flush()
}

// RegisterConfigurationCommands adds method configuration commands.
func RegisterConfigurationCommands(root *cobra.Command) {
	cfgCmd := &cobra.Command{
		Use:     "configs",
		Aliases: []string{"configurations"},
		Short:   "Manage method configurations",
	}

	cfgCmd.AddCommand(newConfigListCmd())
	cfgCmd.AddCommand(newConfigGetCmd())
	cfgCmd.AddCommand(newConfigCopyCmd())
	cfgCmd.AddCommand(newConfigTemplateCmd())
	cfgCmd.AddCommand(newConfigPermissionsCmd())

	root.AddCommand(cfgCmd)
}

func newConfigListCmd() *cobra.Command {
	var workspace, namespace string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List repository configurations, or those of --workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				var (
					cfgs []firecloud.MethodConfiguration
					err  error
				)
				if workspace != "" {
					ns, name, serr := splitWorkspace(workspace)
					if serr != nil {
						return serr
					}
					cfgs, err = c.WorkspaceConfigurations(ctx, ns, name)
				} else {
					query := map[string]string{}
					if namespace != "" {
						query["namespace"] = namespace
					}
					cfgs, err = c.Configurations(ctx, query)
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cfgs)
				}
				w := newTable()
				fmt.Fprintln(w, "NAMESPACE\tNAME\tROOT ENTITY\tMETHOD")
				for _, cfg := range cfgs {
					m := cfg.MethodRepoMethod
					fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s/%d\n",
						cfg.Namespace, cfg.Name, cfg.RootEntityType, m.MethodNamespace, m.MethodName, m.MethodVersion)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "List configurations of namespace/name")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Filter repository configurations by namespace")
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "get <namespace> <name> [snapshot]",
		Short: "Show a repository configuration snapshot, or a workspace configuration",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				var (
					cfg *firecloud.MethodConfiguration
					err error
				)
				if workspace != "" {
					ns, name, serr := splitWorkspace(workspace)
					if serr != nil {
						return serr
					}
					cfg, err = c.WorkspaceConfiguration(ctx, ns, name, args[0], args[1])
				} else {
					if len(args) != 3 {
						return fmt.Errorf("snapshot is required for repository configurations")
					}
					snapshot, perr := parseSnapshot(args[2])
					if perr != nil {
						return perr
					}
					cfg, err = c.Configuration(ctx, args[0], args[1], snapshot, true)
				}
				if err != nil {
					return err
				}
				return printJSON(cfg)
			})
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Read the configuration from namespace/name")
	return cmd
}

func newConfigCopyCmd() *cobra.Command {
	var destNamespace, destName string

	cmd := &cobra.Command{
		Use:   "copy <namespace> <name> <snapshot> <workspace-namespace/name>",
		Short: "Copy a repository configuration into a workspace",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := parseSnapshot(args[2])
			if err != nil {
				return err
			}
			wsNS, wsName, err := splitWorkspace(args[3])
			if err != nil {
				return err
			}
			req := firecloud.CopyConfigurationRequest{
				ConfigurationNamespace:  args[0],
				ConfigurationName:       args[1],
				ConfigurationSnapshotID: snapshot,
				DestinationNamespace:    args[0],
				DestinationName:         args[1],
			}
			if destNamespace != "" {
				req.DestinationNamespace = destNamespace
			}
			if destName != "" {
				req.DestinationName = destName
			}

			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := engine.Scope.CheckNamespace(wsNS); err != nil {
					return err
				}
				cfg, err := c.CopyConfigurationToWorkspace(ctx, wsNS, wsName, req)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cfg)
				}
				fmt.Printf("Copied to %s/%s as %s/%s.\n", wsNS, wsName, req.DestinationNamespace, req.DestinationName)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&destNamespace, "as-namespace", "", "Destination configuration namespace")
	cmd.Flags().StringVar(&destName, "as-name", "", "Destination configuration name")
	return cmd
}

func newConfigTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template <method-namespace> <method-name> <snapshot>",
		Short: "Generate an empty configuration for a method",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := parseSnapshot(args[2])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				cfg, err := c.CreateConfigurationTemplate(ctx, args[0], args[1], snapshot)
				if err != nil {
					return err
				}
				return printJSON(cfg)
			})
		},
	}
}

func newConfigPermissionsCmd() *cobra.Command {
	var grant string

	cmd := &cobra.Command{
		Use:   "permissions <namespace>",
		Short: "Show or grant permissions on a configuration namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if grant == "" {
					entries, err := c.ConfigurationNamespacePermissions(ctx, args[0])
					if err != nil {
						return err
					}
					return printMethodACL(entries)
				}
				user, role, ok := strings.Cut(grant, "=")
				if !ok {
					return fmt.Errorf("--grant must be user=ROLE")
				}
				acl, err := firecloud.NewMethodACL(user, strings.ToUpper(role))
				if err != nil {
					return err
				}
				entries, err := c.UpdateConfigurationNamespacePermissions(ctx, args[0], acl)
				if err != nil {
					return err
				}
				return printMethodACL(entries)
			})
		},
	}

	cmd.Flags().StringVar(&grant, "grant", "", "Grant user=ROLE")
	return cmd
}
