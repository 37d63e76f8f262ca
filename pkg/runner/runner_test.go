package runner_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/aretw0/threadline"
	"github.com/aretw0/threadline/internal/testutils"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/registry"
	"github.com/aretw0/threadline/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, gen *testutils.Generator) *threadline.Engine {
	t.Helper()
	reg := registry.MustNew(registry.Entry{
		Contract:   registry.Contract{Name: domain.CapabilityWeather, Domain: domain.DomainWeather},
		Capability: testutils.Returns("Pune: 31°C, clear sky"),
	})
	eng, err := threadline.New(gen, reg)
	require.NoError(t, err)
	return eng
}

func TestRunner_Conversation(t *testing.T) {
	gen := testutils.NewGenerator().
		Say(domain.PurposeRoute, `["get_weather"]`).
		Say(domain.PurposeAnswer, "It's 31°C in Pune.", "Tomorrow will be 33°C.").
		Say(domain.PurposeRewrite, "What's the weather in Pune tomorrow?")
	eng := newEngine(t, gen)

	in := strings.NewReader("What's the weather in Pune?\n\nAnd tomorrow?\n/thread\nexit\nnever read\n")
	var out bytes.Buffer
	r := runner.New(runner.WithHandler(runner.NewTextHandler(in, &out)))

	require.NoError(t, r.Run(context.Background(), eng))

	text := out.String()
	assert.Contains(t, text, "It's 31°C in Pune.")
	assert.Contains(t, text, "Tomorrow will be 33°C.")
	assert.Contains(t, text, "[System] thread "+r.ThreadID())
	assert.NotContains(t, text, "> ", "no prompt without a terminal")

	s, err := eng.Thread(context.Background(), r.ThreadID())
	require.NoError(t, err)
	assert.Len(t, s.Messages, 4)
	assert.Len(t, gen.CallsFor(domain.PurposeAnswer), 2)
}

func TestRunner_StreamingProgress(t *testing.T) {
	gen := testutils.NewGenerator().
		Say(domain.PurposeRoute, `["get_weather"]`).
		Say(domain.PurposeAnswer, "Sunny.")
	eng := newEngine(t, gen)

	var out bytes.Buffer
	h := runner.NewTextHandler(strings.NewReader("weather in Pune?\n"), &out,
		runner.WithProgress(true),
		runner.WithPrompt("you> "),
		runner.WithTextHandlerRenderer(func(s string) (string, error) { return "**" + s + "**", nil }),
	)
	r := runner.New(runner.WithHandler(h), runner.WithStreaming(true))
	require.NoError(t, r.Run(context.Background(), eng))

	text := out.String()
	assert.Contains(t, text, "you> ")
	assert.Contains(t, text, "· rewrite")
	assert.Contains(t, text, "· tools (get_weather)")
	assert.Contains(t, text, "· answer")
	assert.Contains(t, text, "**Sunny.**")
	assert.NotEmpty(t, r.ThreadID())
}

func TestRunner_Commands(t *testing.T) {
	gen := testutils.NewGenerator().
		Say(domain.PurposeRoute, `["get_weather"]`).
		Say(domain.PurposeAnswer, "Sunny.").
		Say(domain.PurposeSuggest, "How do I register\nWhen is the next workshop")
	eng := newEngine(t, gen)

	in := strings.NewReader("/help\n/suggest\nweather?\n/suggest\n/new\n/thread\n/dance\n")
	var out bytes.Buffer
	r := runner.New(runner.WithHandler(runner.NewTextHandler(in, &out)))
	require.NoError(t, r.Run(context.Background(), eng))

	text := out.String()
	assert.Contains(t, text, "commands: /new")
	assert.Contains(t, text, "[System] no suggestions", "nothing to suggest before the first answer")
	assert.Contains(t, text, "1. How do I register")
	assert.Contains(t, text, "started a new thread")
	assert.Contains(t, text, "thread (none yet)")
	assert.Contains(t, text, "unknown command /dance")
	assert.Empty(t, r.ThreadID())
}

func TestRunner_FailureContinues(t *testing.T) {
	for _, streaming := range []bool{false, true} {
		gen := testutils.NewGenerator().
			Say(domain.PurposeRoute, `["get_weather"]`).
			Fail(domain.PurposeAnswer, errors.New("401 unauthorized")).
			Say(domain.PurposeAnswer, "Recovered.")
		eng := newEngine(t, gen)

		var out bytes.Buffer
		in := strings.NewReader("first\nsecond\n")
		r := runner.New(runner.WithHandler(runner.NewTextHandler(in, &out)), runner.WithStreaming(streaming))
		require.NoError(t, r.Run(context.Background(), eng))

		text := out.String()
		assert.Contains(t, text, "turn failed at answer", "streaming=%v", streaming)
		assert.Contains(t, text, "Recovered.", "streaming=%v", streaming)
	}
}

func TestRunner_InterruptCancelsTurn(t *testing.T) {
	never := make(chan struct{})
	gen := testutils.NewGenerator().
		Say(domain.PurposeRoute, `["get_weather"]`).
		On(domain.PurposeAnswer, testutils.Reply{Wait: never})
	eng := newEngine(t, gen)

	var out bytes.Buffer
	r := runner.New(
		runner.WithHandler(runner.NewTextHandler(strings.NewReader("weather?\nexit\n"), &out)),
		runner.WithSignals(syscall.SIGUSR1),
	)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), eng) }()

	waitFor(t, gen, domain.PurposeAnswer)
	self, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, self.Signal(syscall.SIGUSR1))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Contains(t, out.String(), "interrupted, nothing was saved")
	assert.Empty(t, r.ThreadID())
	assert.Zero(t, eng.Sessions().Held())
}

func TestRunner_ContextCancelledAtPrompt(t *testing.T) {
	eng := newEngine(t, testutils.NewGenerator())
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.New(runner.WithHandler(runner.NewTextHandler(pr, io.Discard))).Run(ctx, eng)
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner ignored cancellation")
	}
}

func TestJSONHandler(t *testing.T) {
	gen := testutils.NewGenerator().
		Say(domain.PurposeRoute, `["get_weather"]`).
		Say(domain.PurposeAnswer, "Sunny.", "Still sunny.", "Sunny again.")
	eng := newEngine(t, gen)

	in := strings.NewReader("\"weather?\"\n{\"query\":\"and now?\"}\nplain text\n/oops\n")
	var out bytes.Buffer
	r := runner.New(runner.WithHandler(runner.NewJSONHandler(in, &out)), runner.WithStreaming(true))
	gen.Say(domain.PurposeRewrite, "weather now?", "weather in plain text?")
	require.NoError(t, r.Run(context.Background(), eng))

	var answers []string
	var events, system int
	dec := json.NewDecoder(&out)
	for dec.More() {
		var msg runner.JSONMessage
		require.NoError(t, dec.Decode(&msg))
		switch msg.Type {
		case "event":
			events++
		case "answer":
			answers = append(answers, msg.Answer.Answer)
		case "system":
			system++
		}
	}
	assert.Equal(t, []string{"Sunny.", "Still sunny.", "Sunny again."}, answers)
	assert.Equal(t, 15, events, "five events per turn")
	assert.Equal(t, 1, system)
}

func TestSignalManager(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := runner.NewSignalManager(parent, syscall.SIGUSR2)
	defer sm.Stop()
	assert.NoError(t, sm.Context().Err())
	assert.False(t, sm.Interrupted())

	self, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, self.Signal(syscall.SIGUSR2))

	select {
	case <-sm.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal not delivered")
	}
	assert.True(t, sm.Interrupted())

	sm.Reset()
	assert.NoError(t, sm.Context().Err())

	start := time.Now()
	sm.CheckRace()
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	cancel()
	<-sm.Context().Done()
	assert.False(t, sm.Interrupted(), "parent cancellation is not an interrupt")
}

func waitFor(t *testing.T, gen *testutils.Generator, p domain.Purpose) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-gen.Entered():
			if got == p {
				return
			}
		case <-timeout:
			t.Fatalf("generator never called for %s", p)
		}
	}
}
