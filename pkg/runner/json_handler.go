package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/aretw0/threadline/pkg/domain"
)

// JSONHandler implements IOHandler for JSON-lines communication.
//
// Each input line is either a JSON string, a JSON object with a "query"
// field, or plain text. Every output is one JSON object per line with a
// "type" of event, answer, suggestions or system.
type JSONHandler struct {
	Reader  *bufio.Reader
	Encoder *json.Encoder
}

// JSONMessage is one line written by JSONHandler.
type JSONMessage struct {
	Type        string               `json:"type"`
	Event       *domain.Event        `json:"event,omitempty"`
	Answer      *domain.ChatResponse `json:"answer,omitempty"`
	Suggestions []string             `json:"suggestions,omitempty"`
	Message     string               `json:"message,omitempty"`
}

// NewJSONHandler creates a handler for JSON IO.
func NewJSONHandler(r io.Reader, w io.Writer) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:  bufio.NewReader(r),
		Encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) Input(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := h.Reader.ReadString('\n')
		text = strings.TrimSpace(text)
		if text == "" {
			if err != nil {
				return "", err
			}
			continue
		}

		var s string
		if json.Unmarshal([]byte(text), &s) == nil {
			return s, nil
		}
		var req domain.ChatRequest
		if json.Unmarshal([]byte(text), &req) == nil && req.Query != "" {
			return req.Query, nil
		}
		return text, nil
	}
}

func (h *JSONHandler) Event(ctx context.Context, ev domain.Event) error {
	return h.Encoder.Encode(JSONMessage{Type: "event", Event: &ev})
}

func (h *JSONHandler) Answer(ctx context.Context, resp *domain.ChatResponse) error {
	return h.Encoder.Encode(JSONMessage{Type: "answer", Answer: resp})
}

func (h *JSONHandler) Suggestions(ctx context.Context, suggestions []string) error {
	return h.Encoder.Encode(JSONMessage{Type: "suggestions", Suggestions: suggestions})
}

func (h *JSONHandler) SystemOutput(ctx context.Context, msg string) error {
	return h.Encoder.Encode(JSONMessage{Type: "system", Message: msg})
}
