package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/bootstrap"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
)

func newUserCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local accounts",
		Long: `User commands operate directly on the account store in the data
directory, so they work without a running server. Passwords come from the
flag or, when omitted, from standard input; pipe them in scripts.`,
	}
	cmd.AddCommand(newUserCreateCommand(opts))
	cmd.AddCommand(newUserDisableCommand(opts))
	cmd.AddCommand(newUserPasswdCommand(opts))
	cmd.AddCommand(newUserListCommand(opts))
	return cmd
}

func newUserCreateCommand(opts *rootOptions) *cobra.Command {
	var (
		username string
		role     string
		password string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				reader := bufio.NewReader(cmd.InOrStdin())
				if password, err = promptLine(cmd, reader, "password"); err != nil {
					return err
				}
			}
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rt, err := bootstrap.Build(cmd.Context(), cfg, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer closeRuntime(rt, logging.NewComponentLogger("user"))

			user, err := rt.Auth.CreateUser(cmd.Context(), username, password, role, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s created %s (%s)\n", green("ok"), user.Username, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Account name")
	cmd.Flags().StringVar(&role, "role", "user", "Account role (admin, user)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newUserDisableCommand(opts *rootOptions) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable an account and revoke its sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rt, err := bootstrap.Build(cmd.Context(), cfg, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer closeRuntime(rt, logging.NewComponentLogger("user"))

			if err := rt.Auth.DisableUser(cmd.Context(), username); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s disabled %s\n", green("ok"), username)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Account name")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newUserPasswdCommand(opts *rootOptions) *cobra.Command {
	var (
		username    string
		oldPassword string
		newPassword string
	)
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change an account password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			reader := bufio.NewReader(cmd.InOrStdin())
			if oldPassword == "" {
				if oldPassword, err = promptLine(cmd, reader, "current password"); err != nil {
					return err
				}
			}
			if newPassword == "" {
				if newPassword, err = promptLine(cmd, reader, "new password"); err != nil {
					return err
				}
			}
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rt, err := bootstrap.Build(cmd.Context(), cfg, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer closeRuntime(rt, logging.NewComponentLogger("user"))

			if err := rt.Auth.ChangePassword(cmd.Context(), username, oldPassword, newPassword); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s password changed for %s\n", green("ok"), username)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Account name")
	cmd.Flags().StringVar(&oldPassword, "old", "", "Current password (prompted when omitted)")
	cmd.Flags().StringVar(&newPassword, "new", "", "New password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newUserListCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rt, err := bootstrap.Build(cmd.Context(), cfg, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer closeRuntime(rt, logging.NewComponentLogger("user"))

			users := rt.Auth.ListUsers(cmd.Context())
			if len(users) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), gray("no accounts yet; run `codi user create`"))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-8s %-10s %s\n",
				bold("USERNAME"), bold("ROLE"), bold("STATE"), bold("CREATED"))
			for _, u := range users {
				state := green("active")
				if u.Disabled {
					state = red("disabled")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-8s %-10s %s\n",
					u.Username, u.Role, state, u.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	return cmd
}

// promptLine reads one line from reader. The caller owns the reader so
// consecutive prompts share buffered input. Input echoes; admin scripts
// should pipe secrets instead of typing them on shared terminals.
func promptLine(cmd *cobra.Command, reader *bufio.Reader, label string) (string, error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: ", label)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s must not be empty", label)
	}
	return line, nil
}
