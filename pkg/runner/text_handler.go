package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// TextHandler implements the standard text-based interface.
type TextHandler struct {
	Reader   *bufio.Reader
	Writer   io.Writer
	Renderer ContentRenderer

	// Prompt is printed before each read. It defaults to "> " on a terminal.
	Prompt string

	// Progress prints one line per stage event.
	Progress bool

	out       *termenv.Output
	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// TextHandlerOption defines configuration for TextHandler.
type TextHandlerOption func(*TextHandler)

// WithTextHandlerRenderer configures the content renderer.
func WithTextHandlerRenderer(renderer ContentRenderer) TextHandlerOption {
	return func(h *TextHandler) {
		h.Renderer = renderer
	}
}

// WithProgress enables stage progress lines.
func WithProgress(enabled bool) TextHandlerOption {
	return func(h *TextHandler) {
		h.Progress = enabled
	}
}

// WithPrompt overrides the input prompt.
func WithPrompt(prompt string) TextHandlerOption {
	return func(h *TextHandler) {
		h.Prompt = prompt
	}
}

// NewTextHandler creates a handler for standard text IO.
func NewTextHandler(r io.Reader, w io.Writer, opts ...TextHandlerOption) *TextHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	h := &TextHandler{
		Reader: bufio.NewReader(r),
		Writer: w,
		out:    termenv.NewOutput(w),
	}
	if IsTerminal(r) {
		h.Prompt = "> "
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IsTerminal reports whether v is a file attached to a terminal.
func IsTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (h *TextHandler) initPump() {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult)
		go h.pump()
	})
}

// pump reads lines in the background so Input can honour cancellation.
func (h *TextHandler) pump() {
	for {
		text, err := h.Reader.ReadString('\n')
		if text != "" {
			h.inputChan <- inputResult{text: text}
		}
		if err != nil {
			if err != io.EOF {
				h.inputChan <- inputResult{err: err}
			}
			close(h.inputChan)
			return
		}
	}
}

func (h *TextHandler) Input(ctx context.Context) (string, error) {
	h.initPump()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		if h.Prompt != "" {
			fmt.Fprint(h.Writer, h.Prompt)
		}
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-h.inputChan:
		if !ok {
			return "", io.EOF
		}
		if res.err != nil {
			return "", res.err
		}
		return strings.TrimSpace(res.text), nil
	}
}

func (h *TextHandler) Event(ctx context.Context, ev domain.Event) error {
	if !h.Progress || ev.Type != domain.EventStage {
		return nil
	}
	line := fmt.Sprintf("  · %s", ev.Stage)
	if ev.Delta != nil && len(ev.Delta.SelectedCapabilities) > 0 {
		names := make([]string, len(ev.Delta.SelectedCapabilities))
		for i, n := range ev.Delta.SelectedCapabilities {
			names[i] = string(n)
		}
		line += " (" + strings.Join(names, ", ") + ")"
	}
	_, err := fmt.Fprintln(h.Writer, h.out.String(line).Faint())
	return err
}

func (h *TextHandler) Answer(ctx context.Context, resp *domain.ChatResponse) error {
	output := resp.Answer
	if h.Renderer != nil {
		if rendered, err := h.Renderer(output); err == nil {
			output = rendered
		}
	}
	_, err := fmt.Fprintln(h.Writer, strings.TrimSpace(output))
	return err
}

func (h *TextHandler) Suggestions(ctx context.Context, suggestions []string) error {
	if len(suggestions) == 0 {
		return h.SystemOutput(ctx, "no suggestions")
	}
	for i, s := range suggestions {
		if _, err := fmt.Fprintf(h.Writer, "%d. %s\n", i+1, s); err != nil {
			return err
		}
	}
	return nil
}

func (h *TextHandler) SystemOutput(ctx context.Context, msg string) error {
	_, err := fmt.Fprintln(h.Writer, h.out.String("[System] "+msg).Faint())
	return err
}
