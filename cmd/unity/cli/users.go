package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/identity"
	"golang.org/x/term"
)

// RegisterUserCommands adds stored user commands.
func RegisterUserCommands(root *cobra.Command) {
	userCmd := &cobra.Command{
		Use:     "users",
		Aliases: []string{"user"},
		Short:   "Manage portal users and their delegated credentials",
	}

	userCmd.AddCommand(newUserAddCmd())
	userCmd.AddCommand(newUserListCmd())
	userCmd.AddCommand(newUserRemoveCmd())
	userCmd.AddCommand(newUserRegisterCmd())
	userCmd.AddCommand(newUserRefreshCmd())
	userCmd.AddCommand(newUserSetRefreshTokenCmd())

	root.AddCommand(userCmd)
}

func users(engine *core.Engine) (*identity.Store, error) {
	if engine.Users == nil {
		return nil, core.ErrNoSecretKeyBase
	}
	return engine.Users, nil
}

func readRefreshToken(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	fmt.Fprint(os.Stderr, "Refresh token (empty for none): ")
	tok, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("reading refresh token: %w", err)
	}
	fmt.Fprintln(os.Stderr)
	return string(tok), nil
}

func newUserAddCmd() *cobra.Command {
	var (
		fullName     string
		refreshToken string
		prompt       bool
	)

	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Store a user and their sealed refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt {
				tok, err := readRefreshToken(refreshToken)
				if err != nil {
					return err
				}
				refreshToken = tok
			}
			return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
				store, err := users(engine)
				if err != nil {
					return err
				}
				u, err := store.AddUser(identity.AddUserInput{
					Email:        args[0],
					FullName:     fullName,
					RefreshToken: refreshToken,
				})
				if err != nil {
					return err
				}
				fmt.Printf("User %s added (uuid %s, refresh token: %s).\n", u.Email, u.UUID, yesNo(u.HasRefreshToken))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&fullName, "name", "", "Full name")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token (prefer --prompt)")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "Read the refresh token from the terminal")
	return cmd
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
				store, err := users(engine)
				if err != nil {
					return err
				}
				list, err := store.ListUsers()
				if err != nil {
					return err
				}
				fingerprints := make([]string, len(list))
				for i, u := range list {
					if fingerprints[i], err = store.RefreshFingerprint(u.Email); err != nil {
						return err
					}
				}

				if jsonOutput {
					type row struct {
						UUID        string    `json:"uuid"`
						Email       string    `json:"email"`
						FullName    string    `json:"full_name,omitempty"`
						Registered  bool      `json:"registered"`
						Fingerprint string    `json:"refresh_token_fingerprint,omitempty"`
						ExpiresAt   time.Time `json:"token_expires_at"`
					}
					out := make([]row, 0, len(list))
					for i, u := range list {
						out = append(out, row{u.UUID, u.Email, u.FullName, u.RegisteredForFireCloud, fingerprints[i], u.Token.ExpiresAt})
					}
					return printJSON(out)
				}

				w := newTable()
				fmt.Fprintln(w, "EMAIL\tNAME\tREGISTERED\tREFRESH TOKEN\tTOKEN EXPIRES")
				for i, u := range list {
					expires := "-"
					if !u.Token.ExpiresAt.IsZero() {
						expires = u.Token.ExpiresAt.Local().Format("2006-01-02 15:04")
					}
					refresh := fingerprints[i]
					if refresh == "" {
						refresh = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						u.Email, u.FullName, yesNo(u.RegisteredForFireCloud), refresh, expires)
				}
				return w.Flush()
			})
		},
	}
}

func newUserRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email>",
		Short: "Remove a stored user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
				store, err := users(engine)
				if err != nil {
					return err
				}
				if err := store.RemoveUser(args[0]); err != nil {
					return err
				}
				fmt.Printf("User %s removed.\n", args[0])
				return nil
			})
		},
	}
}

func newUserRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "registered <email>",
		Short: "Check and cache whether a user has registered with FireCloud",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
				ok, err := engine.EnsureRegistered(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s registered: %s\n", args[0], yesNo(ok))
				return nil
			})
		},
	}
}

func newUserRefreshCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh stored access tokens that expire soon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
				n, err := engine.RefreshExpiringTokens(ctx, window)
				fmt.Printf("Refreshed %d tokens.\n", n)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&window, "window", 5*time.Minute, "Refresh tokens expiring within this window")
	return cmd
}

func newUserSetRefreshTokenCmd() *cobra.Command {
	var refreshToken string

	cmd := &cobra.Command{
		Use:   "set-refresh-token <email>",
		Short: "Replace a user's sealed refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := readRefreshToken(refreshToken)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
				store, err := users(engine)
				if err != nil {
					return err
				}
				if err := store.SetRefreshToken(args[0], tok); err != nil {
					return err
				}
				fmt.Printf("Refresh token for %s updated.\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token (prompted when omitted)")
	return cmd
}
