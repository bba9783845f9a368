package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/productflow/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage onboarding sessions in the session store",
	Long:  `List, inspect, and remove sessions stored in the configured session store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.repo.ListSessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("error listing sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No active sessions found.")
			return nil
		}

		now := time.Now()
		fmt.Fprintln(out, "Active Sessions:")
		for _, id := range ids {
			s, err := a.repo.GetSession(cmd.Context(), id)
			if err != nil {
				fmt.Fprintf(out, "- %s (%v)\n", id, err)
				continue
			}
			fmt.Fprintf(out, "- %s  %s  user=%s  expires in %s\n",
				id, tui.StateLabel(out, s.State), s.UserID, s.RemainingTTL(now).Round(time.Second))
		}
		return nil
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect the state of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.repo.GetSession(cmd.Context(), sessionID)
		if err != nil {
			return fmt.Errorf("error loading session '%s': %w", sessionID, err)
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return fmt.Errorf("error marshaling session: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		rendered, err := tui.NewRenderer(out)(tui.SessionMarkdown(s, time.Now()))
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm [session-id...]",
	Short: "Remove one or more sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return errors.New("requires at least one session id or --all")
		}

		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if all {
			ids, err := a.repo.ListSessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("error listing sessions: %w", err)
			}
			args = ids
		}

		out := cmd.OutOrStdout()
		var errs []error
		for _, sessionID := range args {
			if err := a.repo.DeleteSession(cmd.Context(), sessionID); err != nil {
				errs = append(errs, fmt.Errorf("error removing '%s': %w", sessionID, err))
				continue
			}
			fmt.Fprintf(out, "Removed session '%s'\n", sessionID)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)

	sessionInspectCmd.Flags().Bool("json", false, "Print the raw session document")
	sessionRmCmd.Flags().Bool("all", false, "Remove every session in the store")
}
