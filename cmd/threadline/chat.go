package main

import (
	"os"

	"github.com/aretw0/threadline/internal/presentation/tui"
	"github.com/aretw0/threadline/pkg/runner"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Reads questions from stdin and prints answers. Answers are rendered as
markdown on a terminal. With --json, every line of input and output is a
JSON document, for driving threadline from another program.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		threadID, _ := cmd.Flags().GetString("thread")
		stream, _ := cmd.Flags().GetBool("stream")
		asJSON, _ := cmd.Flags().GetBool("json")

		var handler runner.IOHandler
		if asJSON {
			handler = runner.NewJSONHandler(os.Stdin, os.Stdout)
		} else {
			var opts []runner.TextHandlerOption
			opts = append(opts, runner.WithProgress(stream))
			if runner.IsTerminal(os.Stdout) {
				width := 80
				if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
					width = w
				}
				opts = append(opts, runner.WithTextHandlerRenderer(tui.NewRenderer(width)))
				tui.PrintBanner(os.Stdout, "type /help for commands, exit to quit")
			}
			handler = runner.NewTextHandler(os.Stdin, os.Stdout, opts...)
		}

		r := runner.New(
			runner.WithHandler(handler),
			runner.WithLogger(app.Logger),
			runner.WithThreadID(threadID),
			runner.WithStreaming(stream),
		)
		return r.Run(cmd.Context(), app.Engine)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("thread", "t", "", "Resume an existing thread")
	chatCmd.Flags().Bool("stream", true, "Show stage progress while a turn runs")
	chatCmd.Flags().Bool("json", false, "Use JSON lines for input and output")
}
