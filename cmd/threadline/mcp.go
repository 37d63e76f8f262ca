package main

import (
	"fmt"

	mcpAdapter "github.com/aretw0/threadline/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve threadline as Model Context Protocol tools",
	Long:  `Exposes chat, suggest and list_capabilities over stdio, or over SSE with --sse.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		s := mcpAdapter.NewServer(app.Engine, mcpAdapter.WithLogger(app.Logger))

		port, _ := cmd.Flags().GetInt("sse")
		if port == 0 {
			return s.ServeStdio()
		}
		return s.ServeSSE(cmd.Context(), fmt.Sprintf(":%d", port), fmt.Sprintf("http://localhost:%d", port))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().Int("sse", 0, "Serve over SSE on this port instead of stdio")
}
