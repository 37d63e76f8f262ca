package llm

import (
	"sync"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// CountTokens estimates the token count of text with the GPT-4 encoding.
// It falls back to len/4 when the codec is unavailable.
func CountTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.ForModel(tokenizer.GPT4)
		if err == nil {
			codec = c
		}
	})
	if codec != nil {
		if n, err := codec.Count(text); err == nil {
			return n
		}
	}
	return len(text) / 4
}

// TrimToBudget keeps the most recent messages whose combined token count fits budget.
// A non-positive budget disables trimming.
func TrimToBudget(msgs []domain.Message, budget int) []domain.Message {
	if budget <= 0 {
		return msgs
	}
	total := 0
	i := len(msgs)
	for i > 0 {
		n := CountTokens(msgs[i-1].Content)
		if total+n > budget {
			break
		}
		total += n
		i--
	}
	return msgs[i:]
}
