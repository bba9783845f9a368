package main

import (
	"fmt"

	"github.com/aretw0/productflow/internal/presentation/graph"
	"github.com/spf13/cobra"
)

// statesCmd represents the states command
var statesCmd = &cobra.Command{
	Use:   "states [session-id]",
	Short: "Export the session state machine as a Mermaid diagram",
	Long: `Outputs a Mermaid diagram (graph TD) of the session lifecycle.
With a session id, the states the session went through are highlighted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var overlay *graph.Overlay
		if len(args) == 1 {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.repo.GetSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error loading session '%s': %w", args[0], err)
			}
			overlay = &graph.Overlay{
				Visited: graph.PathTo(s),
				Current: s.State,
			}
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statesCmd)
}
