package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/firecloud"
)

// RegisterProfileCommands adds registration and profile commands.
func RegisterProfileCommands(root *cobra.Command) {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit the caller's FireCloud profile",
	}

	profileCmd.AddCommand(newProfileGetCmd())
	profileCmd.AddCommand(newProfileSetCmd())
	profileCmd.AddCommand(newProfileRegisteredCmd())

	root.AddCommand(profileCmd)
}

func newProfileGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Show profile attributes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				p, err := c.Profile(ctx)
				if err != nil {
					return err
				}
				if len(args) == 1 {
					fmt.Println(p.Get(args[0]))
					return nil
				}
				if jsonOutput {
					return printJSON(p)
				}
				w := newTable()
				fmt.Fprintln(w, "KEY\tVALUE")
				for _, kv := range p.KeyValuePairs {
					fmt.Fprintf(w, "%s\t%s\n", kv.Key, kv.Value)
				}
				return w.Flush()
			})
		},
	}
}

func newProfileSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Write profile attributes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseAssignments(args)
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := c.SetProfile(ctx, attrs); err != nil {
					return err
				}
				fmt.Printf("Updated %d profile attributes.\n", len(attrs))
				return nil
			})
		},
	}
}

func newProfileRegisteredCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "registered",
		Short: "Report whether the caller has registered with FireCloud",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asUser != "" {
				return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
					ok, err := engine.EnsureRegistered(ctx, asUser)
					if err != nil {
						return err
					}
					fmt.Println(yesNo(ok))
					return nil
				})
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				ok, err := c.Registered(ctx)
				if err != nil {
					return err
				}
				fmt.Println(yesNo(ok))
				return nil
			})
		},
	}
}
