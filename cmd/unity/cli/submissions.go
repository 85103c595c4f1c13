package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/firecloud"
)

// RegisterSubmissionCommands adds workflow submission commands.
func RegisterSubmissionCommands(root *cobra.Command) {
	subCmd := &cobra.Command{
		Use:     "submissions",
		Aliases: []string{"sub"},
		Short:   "Launch and inspect workflow submissions",
	}

	subCmd.AddCommand(newSubmissionListCmd())
	subCmd.AddCommand(newSubmissionCreateCmd())
	subCmd.AddCommand(newSubmissionGetCmd())
	subCmd.AddCommand(newSubmissionAbortCmd())
	subCmd.AddCommand(newSubmissionWorkflowCmd())
	subCmd.AddCommand(newSubmissionOutputsCmd())
	subCmd.AddCommand(newSubmissionQueueCmd())

	root.AddCommand(subCmd)
}

func newSubmissionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <namespace/name>",
		Short: "List submissions of a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				subs, err := c.WorkspaceSubmissions(ctx, ns, name)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(subs)
				}
				w := newTable()
				fmt.Fprintln(w, "ID\tSTATUS\tCONFIG\tSUBMITTER\tDATE")
				for _, s := range subs {
					fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%s\n", s.SubmissionID, s.Status,
						s.MethodConfigurationNamespace, s.MethodConfigurationName, s.Submitter, s.SubmissionDate)
				}
				return w.Flush()
			})
		},
	}
}

func newSubmissionCreateCmd() *cobra.Command {
	var (
		validateOnly bool
		noCallCache  bool
	)

	cmd := &cobra.Command{
		Use:   "create <namespace/name> <config-namespace> <config-name> <entity-type> <entity-name>",
		Short: "Submit a workflow for an entity",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			req := firecloud.NewSubmissionRequest(args[1], args[2], args[3], args[4])
			req.UseCallCache = !noCallCache

			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := engine.Scope.CheckCompute(ns); err != nil {
					return err
				}
				if validateOnly {
					v, err := c.ValidateSubmission(ctx, ns, name, req)
					if err != nil {
						return err
					}
					if jsonOutput {
						return printJSON(v)
					}
					fmt.Printf("Valid entities:   %d\n", len(v.ValidEntities))
					fmt.Printf("Invalid entities: %d\n", len(v.InvalidEntities))
					return nil
				}
				sub, err := c.CreateSubmission(ctx, ns, name, req)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(sub)
				}
				fmt.Printf("Submission %s created (%s).\n", sub.SubmissionID, sub.Status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&validateOnly, "validate", false, "Validate without submitting")
	cmd.Flags().BoolVar(&noCallCache, "no-call-cache", false, "Disable call caching")
	return cmd
}

func newSubmissionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <namespace/name> <submission-id>",
		Short: "Show a submission and its workflows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				sub, err := c.Submission(ctx, ns, name, args[1])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(sub)
				}
				fmt.Printf("Submission:  %s\n", sub.SubmissionID)
				fmt.Printf("Status:      %s\n", sub.Status)
				fmt.Printf("Submitted:   %s by %s\n", sub.SubmissionDate, sub.Submitter)
				if len(sub.Workflows) == 0 {
					return nil
				}
				fmt.Println()
				w := newTable()
				fmt.Fprintln(w, "WORKFLOW\tSTATUS\tCHANGED\tCOST")
				for _, wf := range sub.Workflows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n", wf.WorkflowID, wf.Status, wf.StatusLastChangedDate, wf.Cost)
				}
				return w.Flush()
			})
		},
	}
}

func newSubmissionAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <namespace/name> <submission-id>",
		Short: "Abort a running submission",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				if err := c.AbortSubmission(ctx, ns, name, args[1]); err != nil {
					return err
				}
				fmt.Printf("Submission %s aborted.\n", args[1])
				return nil
			})
		},
	}
}

func newSubmissionWorkflowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflow <namespace/name> <submission-id> <workflow-id>",
		Short: "Show workflow metadata",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				md, err := c.SubmissionWorkflow(ctx, ns, name, args[1], args[2])
				if err != nil {
					return err
				}
				return printJSON(md)
			})
		},
	}
}

func newSubmissionOutputsCmd() *cobra.Command {
	var sign bool

	cmd := &cobra.Command{
		Use:   "outputs <namespace/name> <submission-id> <workflow-id>",
		Short: "List workflow outputs, optionally with signed download URLs",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, err := splitWorkspace(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				out, err := c.SubmissionWorkflowOutputs(ctx, ns, name, args[1], args[2])
				if err != nil {
					return err
				}
				if jsonOutput && !sign {
					return printJSON(out)
				}

				var urlFor func(string) string
				if sign {
					store, err := engine.Storage(ctx)
					if err != nil {
						return err
					}
					bucket, err := store.Bucket(ctx, ns, name)
					if err != nil {
						return err
					}
					prefix := "gs://" + bucket + "/"
					urlFor = func(v string) string {
						object, ok := strings.CutPrefix(v, prefix)
						if !ok || object == "" {
							return ""
						}
						u, err := store.SignedURL(ctx, ns, name, object, engine.Config.SignedURLTTL)
						if err != nil {
							return "error: " + err.Error()
						}
						return u
					}
				}

				w := newTable()
				fmt.Fprintln(w, "TASK\tOUTPUT\tVALUE\tURL")
				for _, task := range sortedKeys(out.Tasks) {
					outputs := out.Tasks[task].Outputs
					for _, key := range sortedKeys(outputs) {
						value := fmt.Sprint(outputs[key])
						link := ""
						if urlFor != nil {
							link = urlFor(value)
						}
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", task, key, value, link)
					}
				}
				if sign {
					fmt.Fprintf(w, "\nURLs expire in %s.\n", engine.Config.SignedURLTTL.Round(time.Minute))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&sign, "sign", false, "Add signed download URLs for outputs in the workspace bucket")
	return cmd
}

func newSubmissionQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show the submission queue backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error {
				qs, err := c.SubmissionQueueStatus(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(qs)
				}
				fmt.Printf("Estimated queue time: %s\n", time.Duration(qs.EstimatedQueueTimeMS)*time.Millisecond)
				fmt.Printf("Workflows ahead:      %d\n", qs.WorkflowsBeforeNextUserWorkflow)
				for _, status := range sortedKeys(qs.WorkflowCountsByStatus) {
					fmt.Printf("  %-12s %d\n", status, qs.WorkflowCountsByStatus[status])
				}
				return nil
			})
		},
	}
}
