package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question",
	Long:  `Runs one turn and prints the answer. The thread ID is printed to stderr so it can be passed to --thread on the next call.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		threadID, _ := cmd.Flags().GetString("thread")
		asJSON, _ := cmd.Flags().GetBool("json")

		resp, err := app.Engine.Chat(cmd.Context(), domain.ChatRequest{
			Query:    strings.Join(args, " "),
			ThreadID: threadID,
		})
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
		fmt.Fprintf(cmd.ErrOrStderr(), "thread: %s\n", resp.ThreadID)
		return nil
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest follow-up questions",
	Long:  `Suggests follow-up questions for --answer, or for the last answer of --thread.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		answer, _ := cmd.Flags().GetString("answer")
		threadID, _ := cmd.Flags().GetString("thread")
		if answer == "" && threadID == "" {
			return fmt.Errorf("one of --answer or --thread is required")
		}

		app, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		resp := app.Engine.Suggest(cmd.Context(), domain.SuggestRequest{FinalAnswer: answer, ThreadID: threadID})
		for _, s := range resp.Suggestions {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringP("thread", "t", "", "Continue an existing thread")
	askCmd.Flags().Bool("json", false, "Print the full response as JSON")

	rootCmd.AddCommand(suggestCmd)
	suggestCmd.Flags().String("answer", "", "Answer to build on")
	suggestCmd.Flags().StringP("thread", "t", "", "Thread whose last answer to use")
}
