// unity is the command-line client for the Single Cell Portal's Terra
// integration: workspaces, methods, submissions, entities, groups, billing
// and workspace bucket files, as the portal service account or a stored user.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/cmd/unity/cli"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "unity",
		Short: "Terra/FireCloud and workspace storage client",
		Long: `unity talks to the Terra/FireCloud orchestration API and the Cloud Storage
buckets behind Terra workspaces. Calls run as the portal service account
unless --as names a stored user.`,
		Version:      version,
		SilenceUsage: true,
	}

	cli.RegisterGlobalFlags(rootCmd)

	// Register command groups
	cli.RegisterWorkspaceCommands(rootCmd)
	cli.RegisterMethodCommands(rootCmd)
	cli.RegisterConfigurationCommands(rootCmd)
	cli.RegisterSubmissionCommands(rootCmd)
	cli.RegisterEntityCommands(rootCmd)
	cli.RegisterGroupCommands(rootCmd)
	cli.RegisterBillingCommands(rootCmd)
	cli.RegisterProfileCommands(rootCmd)
	cli.RegisterStatusCommands(rootCmd)
	cli.RegisterFileCommands(rootCmd)
	cli.RegisterUserCommands(rootCmd)
	cli.RegisterConfigCommands(rootCmd)
	cli.RegisterAuditCommands(rootCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
