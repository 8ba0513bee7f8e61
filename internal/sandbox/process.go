package sandbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrOutputLimit is returned when a command writes more than the configured
// limit to stdout or stderr.
var ErrOutputLimit = errors.New("sandbox: captured output exceeds limit")

// Process is a command started inside a sandbox. Its exit code resolves once
// both output streams have been drained.
type Process struct {
	stdout *capture
	stderr *capture
	done   chan struct{}
	code   int
	err    error
}

// StartProcess runs drain in the background. drain must copy the command's
// output into the two writers and return the exit code once the combined
// stream closes. A limit <= 0 disables the output cap.
func StartProcess(limit int64, drain func(stdout, stderr io.Writer) (int, error)) *Process {
	p := &Process{
		stdout: &capture{limit: limit},
		stderr: &capture{limit: limit},
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		p.code, p.err = drain(p.stdout, p.stderr)
		if p.stdout.overflowed() || p.stderr.overflowed() {
			p.err = ErrOutputLimit
		}
	}()
	return p
}

// Done is closed when the command's streams have closed.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process finishes or ctx is done. Returning early on
// ctx does not stop the command.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.code, p.err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Stdout returns what the command has written to stdout so far.
func (p *Process) Stdout() string {
	return p.stdout.String()
}

// Stderr returns what the command has written to stderr so far.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// capture is a goroutine-safe buffer that refuses writes past its limit.
type capture struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int64
	over  bool
}

func (c *capture) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && int64(c.buf.Len()+len(b)) > c.limit {
		room := int(c.limit) - c.buf.Len()
		if room > 0 {
			c.buf.Write(b[:room])
		}
		c.over = true
		return room, ErrOutputLimit
	}
	return c.buf.Write(b)
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *capture) overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.over
}
