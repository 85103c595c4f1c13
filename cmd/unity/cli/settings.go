package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/config"
	"github.com/unity-portal/unity/internal/logging"
)

// RegisterConfigCommands adds commands for unity's own settings file.
func RegisterConfigCommands(root *cobra.Command) {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or edit unity's configuration",
	}

	settingsCmd.AddCommand(newSettingsShowCmd())
	settingsCmd.AddCommand(newSettingsInitCmd())
	settingsCmd.AddCommand(newSettingsSetCmd())

	root.AddCommand(settingsCmd)
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			shown := *cfg
			shown.OAuthClientSecret = logging.RedactValue(cfg.OAuthClientSecret)
			if jsonOutput {
				return printJSON(shown)
			}

			w := newTable()
			fmt.Fprintf(w, "api_root\t%s\n", shown.APIRoot)
			fmt.Fprintf(w, "project\t%s\n", shown.Project)
			fmt.Fprintf(w, "service_account_key\t%s\n", shown.ServiceAccountKey)
			fmt.Fprintf(w, "oauth_client_id\t%s\n", shown.OAuthClientID)
			fmt.Fprintf(w, "oauth_client_secret\t%s\n", shown.OAuthClientSecret)
			fmt.Fprintf(w, "secret_key_base\t%s\n", yesNo(cfg.SecretKeyBase != ""))
			fmt.Fprintf(w, "data_dir\t%s\n", shown.DataDir)
			fmt.Fprintf(w, "log\t%s/%s\n", shown.LogLevel, shown.LogFormat)
			fmt.Fprintf(w, "retry\t%d attempts, %s backoff\n", shown.MaxAttempts, shown.Backoff)
			fmt.Fprintf(w, "namespaces\t%s\n", strings.Join(shown.Namespaces, ","))
			fmt.Fprintf(w, "acl_workers\t%d\n", shown.ACLWorkers)
			fmt.Fprintf(w, "health_services\t%s\n", strings.Join(shown.HealthServices, ","))
			fmt.Fprintf(w, "signed_url_ttl\t%s\n", shown.SignedURLTTL)
			fmt.Fprintf(w, "http_timeout\t%s\n", shown.HTTPTimeout)
			return w.Flush()
		},
	}
}

func newSettingsInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			fmt.Println("Set SECRET_KEY_BASE in the environment to enable stored users.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one configuration key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Set(configPath, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("%s updated.\n", args[0])
			return nil
		},
	}
}
