package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/audit"
	"github.com/unity-portal/unity/internal/core"
)

// RegisterAuditCommands adds audit log commands.
func RegisterAuditCommands(root *cobra.Command) {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}

	auditCmd.AddCommand(newAuditListCmd())
	auditCmd.AddCommand(newAuditVerifyCmd())

	root.AddCommand(auditCmd)
}

func newAuditListCmd() *cobra.Command {
	var (
		eventType string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
				records, err := audit.Recent(engine.AuditDB, audit.EventType(eventType), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(records)
				}
				w := newTable()
				fmt.Fprintln(w, "ID\tTIME\tEVENT\tIDENTITY\tISSUER\tDETAIL")
				for _, r := range records {
					detail := r.Detail
					if len(detail) > 80 {
						detail = detail[:77] + "..."
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
						r.ID, r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.EventType, r.Identity, r.Issuer, detail)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Only show this event type (e.g. api_call, storage_call)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Number of records to show")
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
				ok, count, err := audit.Verify(engine.AuditDB)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("audit chain invalid after %d records", count)
				}
				fmt.Printf("Audit chain intact (%d records).\n", count)
				return nil
			})
		},
	}
}
