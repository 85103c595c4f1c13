package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/firecloud"
)

// RegisterEntityCommands adds workspace data model commands.
func RegisterEntityCommands(root *cobra.Command) {
	entCmd := &cobra.Command{
		Use:     "entities",
		Aliases: []string{"entity"},
		Short:   "Manage workspace data model entities",
	}

	entCmd.AddCommand(newEntityTypesCmd())
	entCmd.AddCommand(newEntityListCmd())
	entCmd.AddCommand(newEntityGetCmd())
	entCmd.AddCommand(newEntitySetCmd())
	entCmd.AddCommand(newEntityExportCmd())
	entCmd.AddCommand(newEntityImportCmd())
	entCmd.AddCommand(newEntityDeleteCmd())

	root.AddCommand(entCmd)
}

func newEntityTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types <namespace/name>",
		Short: "Summarize entity types in a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				types, err := c.EntityTypes(ctx, ns, name)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(types)
				}
				w := newTable()
				fmt.Fprintln(w, "TYPE\tCOUNT\tID\tATTRIBUTES")
				for _, t := range sortedKeys(types) {
					info := types[t]
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", t, info.Count, info.IDName, strings.Join(info.AttributeNames, ","))
				}
				return w.Flush()
			})
		},
	}
}

func newEntityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <namespace/name> [entity-type]",
		Short: "List entities, optionally of one type",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				var entities []firecloud.Entity
				if len(args) == 2 {
					entities, err = c.EntitiesByType(ctx, ns, name, args[1])
				} else {
					entities, err = c.EntitiesWithType(ctx, ns, name)
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(entities)
				}
				w := newTable()
				fmt.Fprintln(w, "TYPE\tNAME\tATTRIBUTES")
				for _, e := range entities {
					fmt.Fprintf(w, "%s\t%s\t%d\n", e.EntityType, e.Name, len(e.Attributes))
				}
				return w.Flush()
			})
		},
	}
}

func newEntityGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <namespace/name> <entity-type> <entity-name>",
		Short: "Show one entity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				e, err := c.Entity(ctx, ns, name, args[1], args[2])
				if err != nil {
					return err
				}
				return printJSON(e)
			})
		},
	}
}

func newEntitySetCmd() *cobra.Command {
	var op string

	cmd := &cobra.Command{
		Use:   "set <namespace/name> <entity-type> <entity-name> <attribute> [value]",
		Short: "Update one attribute of an entity",
		Args:  cobra.RangeArgs(4, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			update := firecloud.EntityUpdate{Op: op, AttributeName: args[3]}
			if len(args) == 5 {
				update.AddUpdateAttribute = args[4]
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := engine.Scope.CheckNamespace(ns); err != nil {
					return err
				}
				e, err := c.UpdateEntity(ctx, ns, name, args[1], args[2], update)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(e)
				}
				fmt.Printf("Updated %s %s.\n", e.EntityType, e.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&op, "op", "AddUpdateAttribute", "Operation: "+strings.Join(firecloud.EntityOperations, ", "))
	return cmd
}

func newEntityExportCmd() *cobra.Command {
	var attributes []string

	cmd := &cobra.Command{
		Use:   "export <namespace/name> <entity-type>",
		Short: "Export entities of one type as TSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				tsv, err := c.EntitiesTSV(ctx, ns, name, args[1], attributes...)
				if err != nil {
					return err
				}
				fmt.Print(tsv)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&attributes, "attributes", nil, "Only export these attribute columns")
	return cmd
}

func newEntityImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <namespace/name> <tsv-file>",
		Short: "Import a TSV load file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("opening load file: %w", err)
			}
			defer f.Close()

			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := engine.Scope.CheckNamespace(ns); err != nil {
					return err
				}
				result, err := c.ImportEntities(ctx, ns, name, filepath.Base(args[1]), f)
				if err != nil {
					return err
				}
				fmt.Printf("Imported %s into %s/%s.\n", result, ns, name)
				return nil
			})
		},
	}
}

func newEntityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <namespace/name> <entity-type> <entity-name>...",
		Short: "Delete entities of one type",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			refs := firecloud.EntityMap(args[2:], args[1])
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := engine.Scope.CheckNamespace(ns); err != nil {
					return err
				}
				if err := c.DeleteEntities(ctx, ns, name, refs); err != nil {
					return err
				}
				fmt.Printf("Deleted %d %s entities.\n", len(refs), args[1])
				return nil
			})
		},
	}
}
