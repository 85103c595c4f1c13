package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/firecloud"
)

// RegisterStatusCommands adds platform health commands.
func RegisterStatusCommands(root *cobra.Command) {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show orchestration API health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(st)
				}
				fmt.Printf("Overall: %s\n\n", okDown(st.OK))
				w := newTable()
				fmt.Fprintln(w, "SYSTEM\tSTATUS\tMESSAGES")
				for _, name := range sortedKeys(st.Systems) {
					sub := st.Systems[name]
					fmt.Fprintf(w, "%s\t%s\t%s\n", name, okDown(sub.OK), strings.Join(sub.Messages, "; "))
				}
				return w.Flush()
			})
		},
	}

	statusCmd.AddCommand(newStatusCheckCmd())
	statusCmd.AddCommand(newStatusHistoryCmd())

	root.AddCommand(statusCmd)
}

func newStatusCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run and record a health check; exits non-zero when down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
				report, err := engine.CheckAPIHealth(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					if err := printJSON(report); err != nil {
						return err
					}
				} else {
					fmt.Printf("State: %s\n", report.State)
					if report.Error != "" {
						fmt.Printf("Error: %s\n", report.Error)
					}
				}
				if !report.OK() {
					return fmt.Errorf("orchestration API is %s", report.State)
				}
				return nil
			})
		},
	}
}

func newStatusHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded health checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
				reports, err := engine.HealthHistory(limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(reports)
				}
				w := newTable()
				fmt.Fprintln(w, "CHECKED AT\tSTATE\tDOWN")
				for _, r := range reports {
					var down []string
					for _, name := range sortedKeys(r.Systems) {
						if !r.Systems[name] {
							down = append(down, name)
						}
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", r.CheckedAt.Local().Format("2006-01-02 15:04:05"), r.State, strings.Join(down, ","))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of checks to show")
	return cmd
}

func okDown(ok bool) string {
	if ok {
		return "ok"
	}
	return "down"
}
