package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/threadline"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of threadline",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "threadline version %s\n", strings.TrimSpace(threadline.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
