/*
Package runner implements the interactive chat loop on top of a
ports.Orchestrator.

The runner reads queries through a pluggable IOHandler, runs one turn per
query and keeps the thread ID between turns so follow-ups share history.
An interrupt cancels the turn in flight; an interrupt at the prompt ends
the session.

# Key Components

  - Runner: the read, turn, print loop.
  - IOHandler: decouples how queries are read and answers are shown.
  - TextHandler: interactive terminal usage with optional markdown rendering.
  - JSONHandler: JSON-lines for scripting and piping.

# Usage

	r := runner.New(
		runner.WithHandler(runner.NewTextHandler(os.Stdin, os.Stdout)),
		runner.WithStreaming(true),
	)
	if err := r.Run(ctx, engine); err != nil {
		log.Fatal(err)
	}

Lines starting with a slash are commands: /new starts a fresh thread,
/suggest asks for follow-up questions, /thread prints the current thread
ID and /help lists the commands. "exit" or "quit" end the session.
*/
package runner
