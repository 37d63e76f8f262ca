package stages

import (
	"log/slog"
	"time"

	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/domain"
)

const (
	// DefaultHistoryWindow is the number of prior messages shown to the rewriter.
	DefaultHistoryWindow = 6
	// DefaultTokenBudget caps the tokens of the history sent with a prompt.
	DefaultTokenBudget = 2000
	// DefaultInvocationCap bounds total capability calls once context has been found.
	DefaultInvocationCap = 2
	// DefaultMaxCandidates bounds the ranked candidate list taken from the classifier.
	DefaultMaxCandidates = 4
	// DefaultSuggestionCount is the number of follow-up questions produced.
	DefaultSuggestionCount = 3
)

// DeclineAnswer is returned verbatim when no context could be retrieved.
const DeclineAnswer = "I don't have enough information to answer that right now. " +
	"None of my sources returned anything useful, so I'd rather not guess. " +
	"Please try rephrasing the question or ask again later."

type config struct {
	logger          *slog.Logger
	historyWindow   int
	answerWindow    int
	tokenBudget     int
	invocationCap   int
	maxCandidates   int
	toolTimeout     time.Duration
	suggestionCount int
	toolTranscript  bool
	hooks           domain.LifecycleHooks
	now             func() time.Time
}

func newConfig(opts []Option) config {
	c := config{
		logger:          logging.NewNop(),
		historyWindow:   DefaultHistoryWindow,
		tokenBudget:     DefaultTokenBudget,
		invocationCap:   DefaultInvocationCap,
		maxCandidates:   DefaultMaxCandidates,
		suggestionCount: DefaultSuggestionCount,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Option configures a stage. Options a stage does not use are ignored.
type Option func(*config)

// WithLogger sets the stage logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHistoryWindow sets how many prior messages the rewriter sees.
func WithHistoryWindow(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.historyWindow = n
		}
	}
}

// WithAnswerWindow limits the answerer to the last n prior messages. Zero,
// the default, sends the full history subject to the token budget.
func WithAnswerWindow(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.answerWindow = n
		}
	}
}

// WithTokenBudget caps prompt history by token count. Zero disables the cap.
func WithTokenBudget(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.tokenBudget = n
		}
	}
}

// WithInvocationCap sets the total number of capability calls after which a
// supplementary success stops broadening. Failures before the first success
// still fall through to the next candidate.
func WithInvocationCap(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.invocationCap = n
		}
	}
}

// WithMaxCandidates bounds the classifier's ranked list.
func WithMaxCandidates(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxCandidates = n
		}
	}
}

// WithToolTimeout overrides the per-call capability timeout.
// Zero keeps each contract's own timeout.
func WithToolTimeout(d time.Duration) Option {
	return func(c *config) {
		c.toolTimeout = d
	}
}

// WithSuggestionCount sets the number of follow-up questions.
func WithSuggestionCount(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.suggestionCount = n
		}
	}
}

// WithToolTranscript makes the answerer record one tool message per retrieved
// fragment ahead of the assistant message.
func WithToolTranscript(enabled bool) Option {
	return func(c *config) {
		c.toolTranscript = enabled
	}
}

// WithHooks registers capability call hooks on the tool router.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(c *config) {
		c.hooks = hooks
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}
