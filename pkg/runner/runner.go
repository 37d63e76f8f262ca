package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
)

// ErrNoAnswer is returned when a stream ends without a final event.
var ErrNoAnswer = errors.New("stream ended without an answer")

const helpText = "commands: /new (fresh thread), /suggest (follow-up questions), /thread (current thread id), exit"

// Runner drives an interactive conversation.
type Runner struct {
	Handler   IOHandler
	Logger    *slog.Logger
	Streaming bool

	threadID string
	signals  []os.Signal
}

// New creates a Runner reading from Stdin and writing to Stdout by default.
func New(opts ...Option) *Runner {
	r := &Runner{Logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.Handler == nil {
		r.Handler = NewTextHandler(os.Stdin, os.Stdout)
	}
	return r
}

// ThreadID returns the thread the next query continues, or "" for a new one.
func (r *Runner) ThreadID() string {
	return r.threadID
}

// Run loops until the input ends, the user quits, ctx is cancelled or an
// interrupt arrives at the prompt. Turn failures are reported to the
// handler and do not end the loop.
func (r *Runner) Run(ctx context.Context, orch ports.Orchestrator) error {
	signals := NewSignalManager(ctx, r.signals...)
	defer signals.Stop()

	for {
		line, err := r.Handler.Input(signals.Context())
		if err != nil {
			signals.CheckRace()
			if errors.Is(err, io.EOF) || signals.Context().Err() != nil {
				return nil
			}
			return fmt.Errorf("input error: %w", err)
		}

		switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/help":
			err = r.Handler.SystemOutput(ctx, helpText)
		case "/new":
			r.threadID = ""
			err = r.Handler.SystemOutput(ctx, "started a new thread")
		case "/thread":
			id := r.threadID
			if id == "" {
				id = "(none yet)"
			}
			err = r.Handler.SystemOutput(ctx, "thread "+id)
		case "/suggest":
			resp := orch.Suggest(ctx, domain.SuggestRequest{ThreadID: r.threadID})
			err = r.Handler.Suggestions(ctx, resp.Suggestions)
		default:
			if strings.HasPrefix(cmd, "/") {
				err = r.Handler.SystemOutput(ctx, "unknown command "+cmd+"; "+helpText)
				break
			}
			err = r.turn(signals, orch, line)
			if signals.Interrupted() {
				signals.Reset()
			}
		}
		if err != nil {
			return fmt.Errorf("output error: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// turn runs one query. Only handler failures are returned.
func (r *Runner) turn(signals *SignalManager, orch ports.Orchestrator, query string) error {
	ctx := signals.Context()
	req := domain.ChatRequest{Query: query, ThreadID: r.threadID}

	var resp *domain.ChatResponse
	var err error
	if r.Streaming {
		resp, err = r.stream(ctx, orch, req)
	} else {
		resp, err = orch.Chat(ctx, req)
	}

	// The handler writes even when the turn was interrupted.
	out := context.WithoutCancel(ctx)
	if err != nil {
		r.Logger.Debug("turn failed", "thread_id", r.threadID, "err", err)
		return r.Handler.SystemOutput(out, describe(err, signals.Interrupted()))
	}
	r.threadID = resp.ThreadID
	return r.Handler.Answer(out, resp)
}

func (r *Runner) stream(ctx context.Context, orch ports.Orchestrator, req domain.ChatRequest) (*domain.ChatResponse, error) {
	events, err := orch.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &domain.ChatResponse{ThreadID: req.ThreadID}
	var final *domain.Event
	for ev := range events {
		if herr := r.Handler.Event(context.WithoutCancel(ctx), ev); herr != nil {
			r.Logger.Warn("event output failed", "err", herr)
		}
		resp.ThreadID, resp.Turn = ev.ThreadID, ev.Turn
		switch ev.Type {
		case domain.EventStage:
			resp.Stages = append(resp.Stages, ev.Stage)
			if ev.Delta != nil {
				resp.SelectedCapabilities = append(resp.SelectedCapabilities, ev.Delta.SelectedCapabilities...)
				if ev.Delta.NoContext != nil {
					resp.NoContext = *ev.Delta.NoContext
				}
			}
		case domain.EventDone, domain.EventFailed:
			e := ev
			final = &e
		}
	}

	switch {
	case final == nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrNoAnswer
	case final.Type == domain.EventFailed:
		return nil, &domain.TurnError{ThreadID: final.ThreadID, Stage: final.Stage, Err: errors.New(final.Error)}
	}
	resp.Answer = final.Answer
	return resp, nil
}

func describe(err error, interrupted bool) string {
	var te *domain.TurnError
	switch {
	case interrupted || errors.Is(err, context.Canceled):
		return "interrupted, nothing was saved"
	case errors.Is(err, domain.ErrBusy):
		return "this thread is still answering another message, try again shortly"
	case errors.As(err, &te):
		return fmt.Sprintf("turn failed at %s: %v", te.Stage, te.Err)
	}
	return "turn failed: " + err.Error()
}
