package judge

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
)

// Terminal asks the operator on the controlling terminal. Concurrent
// requests are serialized so that prompts never interleave.
type Terminal struct {
	mu sync.Mutex
	rl *readline.Instance
	w  io.Writer
}

// NewTerminal opens a readline session on stdin/stderr.
func NewTerminal() (*Terminal, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pass or fail? [p/f] ",
		Stdout:          os.Stderr,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("readline: %w", err)
	}
	return &Terminal{rl: rl, w: rl.Stdout()}, nil
}

// Close releases the terminal.
func (t *Terminal) Close() error {
	return t.rl.Close()
}

func (t *Terminal) Decide(ctx context.Context, req Request) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	fmt.Fprint(t.w, Render(req))
	for {
		t.rl.SetPrompt("pass or fail? [p/f] ")
		line, err := t.rl.Readline()
		if err != nil {
			return Decision{}, fmt.Errorf("judge input: %w", err)
		}
		passed, ok := ParseAnswer(line)
		if !ok {
			fmt.Fprintln(t.w, "please answer p (pass) or f (fail)")
			continue
		}
		if passed {
			return Decision{Passed: true}, nil
		}

		t.rl.SetPrompt("reason: ")
		reason, err := t.rl.Readline()
		if err != nil {
			return Decision{}, fmt.Errorf("judge input: %w", err)
		}
		return Decision{Reason: strings.TrimSpace(reason)}, nil
	}
}

// ParseAnswer interprets an operator's pass/fail answer.
func ParseAnswer(line string) (passed, ok bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "p", "pass", "y", "yes":
		return true, true
	case "f", "fail", "n", "no":
		return false, true
	default:
		return false, false
	}
}

// Render formats the captured output shown to the operator.
func Render(req Request) string {
	var b strings.Builder
	title := color.New(color.Bold, color.FgCyan).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	fmt.Fprintf(&b, "\n%s\n", title(req.Workspace+":"+req.Case))
	fmt.Fprintln(&b, dim("---- stdout ----"))
	b.WriteString(req.Stdout)
	if req.Stdout != "" && !strings.HasSuffix(req.Stdout, "\n") {
		b.WriteByte('\n')
	}
	if strings.TrimSpace(req.Stderr) != "" {
		fmt.Fprintln(&b, dim("---- stderr ----"))
		b.WriteString(req.Stderr)
		if !strings.HasSuffix(req.Stderr, "\n") {
			b.WriteByte('\n')
		}
	}
	fmt.Fprintln(&b, dim("----------------"))
	return b.String()
}
