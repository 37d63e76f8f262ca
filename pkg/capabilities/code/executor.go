// Package code implements the code_executor capability.
//
// Only allow-listed interpreters can run. The snippet is written to the
// interpreter's stdin and never interpolated into the command line; the
// remaining request arguments are exposed as THREADLINE_ARG_<NAME> environment
// variables.
package code

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/aretw0/threadline/pkg/domain"
)

// DefaultMaxOutput bounds the payload returned to the answer stage.
const DefaultMaxOutput = 4000

// ErrNoCode is returned when the request carries no snippet.
var ErrNoCode = errors.New("code: no code in request")

// Interpreter is an allow-listed command that reads a program from stdin.
type Interpreter struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
}

// Options is decoded from the code_executor options map.
type Options struct {
	Interpreters map[string]Interpreter `mapstructure:"interpreters"`
	Default      string                 `mapstructure:"default"`
	WorkDir      string                 `mapstructure:"work_dir"`
	MaxOutput    int                    `mapstructure:"max_output"`
	Env          map[string]string      `mapstructure:"env"`
}

// DefaultInterpreters is used when no interpreters are configured.
func DefaultInterpreters() map[string]Interpreter {
	return map[string]Interpreter{
		"python": {Command: "python3", Args: []string{"-I", "-"}},
		"shell":  {Command: "sh", Args: []string{"-s"}},
	}
}

// Executor runs snippets through allow-listed interpreters.
type Executor struct {
	opts Options
}

// New creates an executor.
func New(opts Options) *Executor {
	if len(opts.Interpreters) == 0 {
		opts.Interpreters = DefaultInterpreters()
	}
	if opts.Default == "" {
		opts.Default = "python"
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	return &Executor{opts: opts}
}

// Languages lists the allow-listed interpreter names.
func (e *Executor) Languages() []string {
	out := make([]string, 0, len(e.opts.Interpreters))
	for name := range e.opts.Interpreters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke implements ports.Capability. The snippet comes from the "code"
// argument or from a fenced block in the query; "language" selects the interpreter.
func (e *Executor) Invoke(ctx context.Context, req domain.Request) (string, error) {
	lang, src := e.opts.Default, ""
	if v, ok := req.Args["language"].(string); ok && v != "" {
		lang = strings.ToLower(v)
	}
	if v, ok := req.Args["code"].(string); ok {
		src = v
	}
	if strings.TrimSpace(src) == "" {
		fenceLang, fenced := ExtractFenced(req.Query)
		src = fenced
		if fenceLang != "" && req.Args["language"] == nil {
			lang = fenceLang
		}
	}
	if strings.TrimSpace(src) == "" {
		return "", ErrNoCode
	}

	interp, ok := e.opts.Interpreters[lang]
	if !ok {
		return "", fmt.Errorf("code: language %q is not allowed (allowed: %s)", lang, strings.Join(e.Languages(), ", "))
	}

	cmd := exec.CommandContext(ctx, interp.Command, interp.Args...)
	cmd.Dir = e.opts.WorkDir
	// Children of a killed interpreter may keep the pipes open.
	cmd.WaitDelay = time.Second
	cmd.Stdin = strings.NewReader(src)
	cmd.Env = append(cmd.Environ(), e.env(req.Args)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("code: execution failed: %w: %s", err, truncate(strings.TrimSpace(stderr.String()), 500))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		out = "(no output)"
	}
	return truncate(out, e.opts.MaxOutput), nil
}

// env exposes the configured variables and the scalar request arguments.
func (e *Executor) env(args map[string]any) []string {
	var env []string
	for k, v := range e.opts.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range args {
		if k == "code" || k == "language" || !validKey(k) {
			continue
		}
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool:
			val = fmt.Sprintf("%v", v)
		case nil:
		default:
			if b, err := json.Marshal(v); err == nil {
				val = string(b)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, "THREADLINE_ARG_"+strings.ToUpper(k)+"="+val)
	}
	return env
}

func validKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

var fence = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\s*\\n(.*?)```")

// ExtractFenced returns the language tag and body of the first fenced code block.
func ExtractFenced(s string) (lang, body string) {
	m := fence.FindStringSubmatch(s)
	if m == nil {
		return "", ""
	}
	lang = strings.ToLower(m[1])
	switch lang {
	case "py", "python3":
		lang = "python"
	case "sh", "bash":
		lang = "shell"
	}
	return lang, m[2]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
