// ABOUTME: Account subcommands for the hearth CLI
// ABOUTME: Create, list, switch, delete accounts, log out, and mint session tokens

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/hearth/internal/identity"
)

func newAccountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts on this device",
	}

	cmd.AddCommand(
		newAccountCreateCmd(a),
		newAccountListCmd(a),
		newAccountUseCmd(a),
		newAccountLogoutCmd(a),
		newAccountDeleteCmd(a),
		newAccountTokenCmd(a),
	)

	return cmd
}

func newAccountCreateCmd(a *app) *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.ws.CreateAccount(cmd.Context(), args[0], displayName)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprint(out, "✓ ")
			fmt.Fprintf(out, "created %s %s\n", rec.Name, color.HiBlackString(rec.DID))
			if rec.Active {
				fmt.Fprintln(out, "  now the active account")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "name shown to people")
	return cmd
}

func newAccountListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			current, _ := a.ws.CurrentAccount(cmd.Context())
			out := cmd.OutOrStdout()
			for _, rec := range a.ws.Accounts() {
				marker := "  "
				if rec.DID == current.String() {
					marker = color.GreenString("* ")
				}
				fmt.Fprintf(out, "%s%s\t%s\t%d credential(s)\n", marker, rec.DID, rec.WebAuthnDisplayName(), len(rec.Credentials))
			}
			return nil
		},
	}
}

func newAccountUseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use DID",
		Short: "Switch the active account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ws.SwitchAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s switched to %s (%d sessions)\n",
				color.GreenString("✓"), args[0], len(a.ws.Sessions()))
			return nil
		},
	}
}

func newAccountLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Deactivate the current account; its data stays on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.ws.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s logged out\n", color.GreenString("✓"))
			return nil
		},
	}
}

func newAccountDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete DID",
		Short: "Delete an account record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ws.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %s\n", color.GreenString("✓"), args[0])
			return nil
		},
	}
}

func newAccountTokenCmd(a *app) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a session token for the active account (token identity source only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ts, ok := a.ws.TokenSource()
			if !ok {
				return fmt.Errorf("identity.source is %q, not token", a.cfg.Identity.Source)
			}
			id, ok := a.ws.CurrentAccount(cmd.Context())
			if !ok {
				return identity.ErrNoAccount
			}
			token, err := ts.Issue(id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
