package main

import (
	"fmt"

	"github.com/aretw0/threadline/internal/presentation/graph"
	"github.com/aretw0/threadline/internal/runtime"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the turn graph as a Mermaid flowchart",
	Long:  `Prints the turn graph. With --thread, the stages taken by the thread's last turn are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, _ := cmd.Flags().GetString("thread")

		var overlay *graph.Overlay
		if threadID != "" {
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.Engine.Thread(cmd.Context(), threadID)
			if err != nil {
				return fmt.Errorf("load thread %s: %w", threadID, err)
			}
			overlay = graph.TurnOverlay(s)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(runtime.DefaultTransitions(), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("thread", "t", "", "Highlight the last turn of this thread")
}
