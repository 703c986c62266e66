// ABOUTME: Session, setting, memory, status, and wipe subcommands for the hearth CLI
// ABOUTME: Each one operates on the active account's stores

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/hearth/internal/identity"
	"github.com/2389/hearth/internal/workspace"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active account and store rehydration state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := a.ws.Status(cmd.Context())
			out := cmd.OutOrStdout()

			account := color.YellowString("none")
			if st.Account != "" {
				account = color.CyanString(st.Account)
			}
			fmt.Fprintf(out, "Account:   %s\n", account)
			fmt.Fprintf(out, "Database:  %s\n", a.cfg.Database.Path)
			fmt.Fprintf(out, "Sessions:  %d\n", st.Sessions)
			fmt.Fprintf(out, "Memories:  %d\n", st.Memories)

			names := make([]string, 0, len(st.Stores))
			for name := range st.Stores {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintln(out, "Stores:")
			for _, name := range names {
				mark := color.GreenString("✓")
				if !st.Stores[name] {
					mark = color.RedString("✗")
				}
				fmt.Fprintf(out, "  %s %s\n", mark, name)
			}
			return nil
		},
	}
}

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage chat sessions",
	}

	var model string
	var messages []string
	save := &cobra.Command{
		Use:   "save TITLE",
		Short: "Save a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := workspace.ChatSession{Title: args[0], Model: model}
			for _, m := range messages {
				sess.Messages = append(sess.Messages, workspace.Message{Role: "user", Content: m})
			}
			saved, err := a.ws.SaveSession(cmd.Context(), sess)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s saved %s\n", color.GreenString("✓"), saved.ID)
			return nil
		},
	}
	save.Flags().StringVar(&model, "model", "", "model the session talks to")
	save.Flags().StringArrayVarP(&messages, "message", "m", nil, "user message (repeatable)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List chat sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, s := range a.ws.Sessions() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d message(s)\n", s.ID, s.Title, len(s.Messages))
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ws.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %s\n", color.GreenString("✓"), args[0])
			return nil
		},
	}

	cmd.AddCommand(save, list, del)
	return cmd
}

func newSettingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setting",
		Short: "Read and write per-account settings",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get KEY",
			Short: "Print one setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, ok := a.ws.Setting(args[0])
				if !ok {
					return fmt.Errorf("setting %s: %w", args[0], workspace.ErrNotFound)
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set KEY VALUE",
			Short: "Store one setting",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.ws.SetSetting(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				settings := a.ws.Settings()
				keys := make([]string, 0, len(settings))
				for k := range settings {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, settings[k])
				}
				return nil
			},
		},
	)
	return cmd
}

func newMemoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Save and search semantic memories",
	}

	var limit int
	query := &cobra.Command{
		Use:   "query TEXT...",
		Short: "Find the memories most similar to TEXT",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := a.ws.Memory().Query(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			for _, m := range matches {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n",
					color.CyanString("%.3f", m.Similarity), m.ID, m.Text)
			}
			return nil
		},
	}
	query.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (default from config)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "save TEXT...",
			Short: "Remember TEXT",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := a.ws.Remember(cmd.Context(), strings.Join(args, " "), nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s saved %s\n", color.GreenString("✓"), id)
				return nil
			},
		},
		query,
		&cobra.Command{
			Use:   "list",
			Short: "List memories",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				for _, r := range a.ws.Memory().List() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.ID, r.Text)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete ID",
			Short: "Forget one memory",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.ws.Memory().Delete(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Forget every memory of the active account",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, ok := a.ws.CurrentAccount(cmd.Context()); !ok {
					return identity.ErrNoAccount
				}
				a.ws.Memory().Clear(cmd.Context())
				return nil
			},
		},
	)
	return cmd
}

func newWipeCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete every stored row of the active account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("wipe deletes all data of the active account; pass --yes to confirm")
			}
			if err := a.ws.Wipe(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wiped\n", color.GreenString("✓"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")
	return cmd
}
