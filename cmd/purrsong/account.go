package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/purrsong-bridge/internal/account"
)

// passwordEnv supplies the password when --password is not given, so it
// stays out of shell history.
const passwordEnv = "PURRSONG_ACCOUNT_PASSWORD"

func newAccountCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage PurrSong accounts",
	}
	cmd.AddCommand(
		newAccountAddCmd(opts),
		newAccountReauthCmd(opts),
		newAccountListCmd(opts),
		newAccountRemoveCmd(opts),
	)
	return cmd
}

type credentialFlags struct {
	email    string
	password string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.email, "email", "", "PurrSong account e-mail")
	cmd.Flags().StringVar(&f.password, "password", "", "PurrSong account password (env: "+passwordEnv+")")
	_ = cmd.MarkFlagRequired("email") //nolint:errcheck // Flag registered above
}

func (f *credentialFlags) resolvePassword() (string, error) {
	if f.password != "" {
		return f.password, nil
	}
	if p := os.Getenv(passwordEnv); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("--password or %s is required", passwordEnv)
}

// describeFlowError adds the form key to validation failures.
func describeFlowError(err error) error {
	if errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrInvalidEntry) {
		return err
	}
	return fmt.Errorf("%s: %w", account.ErrorKey(err), err)
}

func newAccountAddCmd(opts *rootOptions) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Validate credentials and add an account",
		Long: `Add logs in to the PurrSong cloud, checks the account has at least one
device and stores it. A running daemon loads it on its next start; use the
API to add accounts to a running daemon.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := creds.resolvePassword()
			if err != nil {
				return err
			}
			env, err := opts.openEnv(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer env.Close() //nolint:errcheck // CLI exit

			e, err := env.flow.Create(cmd.Context(), creds.email, password)
			if err != nil {
				return describeFlowError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added account %s (%s)\n", e.ID, e.Email)
			return nil
		},
	}
	creds.register(cmd)
	return cmd
}

func newAccountReauthCmd(opts *rootOptions) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "reauth <entry-id>",
		Short: "Replace the credentials of an existing account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := creds.resolvePassword()
			if err != nil {
				return err
			}
			env, err := opts.openEnv(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer env.Close() //nolint:errcheck // CLI exit

			e, err := env.flow.Reauthenticate(cmd.Context(), args[0], creds.email, password)
			if err != nil {
				return describeFlowError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-authenticated account %s (%s)\n", e.ID, e.Email)
			return nil
		},
	}
	creds.register(cmd)
	return cmd
}

func newAccountListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.openEnv(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer env.Close() //nolint:errcheck // CLI exit

			entries, err := env.repo.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no accounts configured")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEMAIL\tSTATE\tVERSION\tLAST ERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", e.ID, e.LoginEmail(), e.State, e.Version, e.LastError)
			}
			return tw.Flush()
		},
	}
}

func newAccountRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <entry-id>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.openEnv(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer env.Close() //nolint:errcheck // CLI exit

			if err := env.repo.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed account %s\n", args[0])
			return nil
		},
	}
}
