// Package pipeline drives one workspace through the grading stages.
//
//	Raw --make--> Build --exec(case)--> Output --eval(case)--> Result
//
// Every make and every exec creates its own sandbox and destroys it before
// returning. Callers must not run two operations on the same workspace at
// once.
package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/JacobLinCool/cpta/internal/judge"
	"github.com/JacobLinCool/cpta/internal/sandbox"
)

const (
	// DefaultStepTimeout bounds every build command and command step.
	DefaultStepTimeout = 30 * time.Second
)

// DefaultBuildCommand is run in the build sandbox.
var DefaultBuildCommand = []string{"make"}

// Pipeline runs stage operations against a sandbox provisioner.
type Pipeline struct {
	provisioner  sandbox.Provisioner
	judge        judge.Judge
	logger       zerolog.Logger
	image        string
	stepTimeout  time.Duration
	buildCommand []string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithJudge sets who decides interactive cases.
func WithJudge(j judge.Judge) Option {
	return func(p *Pipeline) { p.judge = j }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithImage sets the sandbox image. Empty keeps the provisioner's default.
func WithImage(image string) Option {
	return func(p *Pipeline) { p.image = image }
}

// WithStepTimeout sets the per-command timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.stepTimeout = d
		}
	}
}

// WithBuildCommand sets the build command.
func WithBuildCommand(cmd []string) Option {
	return func(p *Pipeline) {
		if len(cmd) > 0 {
			p.buildCommand = cmd
		}
	}
}

// New returns a pipeline using prov for every sandbox. Interactive cases
// fail unless a judge is supplied.
func New(prov sandbox.Provisioner, opts ...Option) *Pipeline {
	p := &Pipeline{
		provisioner:  prov,
		judge:        judge.Refuse,
		logger:       zerolog.Nop(),
		stepTimeout:  DefaultStepTimeout,
		buildCommand: DefaultBuildCommand,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// stepResult is the captured outcome of one command.
type stepResult struct {
	stdout   string
	stderr   string
	code     int
	timedOut bool
}

// run starts cmd and races its completion against timeout. A lost race
// leaves the command running; the sandbox's destruction reclaims it.
func (p *Pipeline) run(ctx context.Context, sb sandbox.Sandbox, cmd []string, stdin string, timeout time.Duration) (stepResult, error) {
	var in io.Reader
	if stdin != "" {
		in = strings.NewReader(stdin)
	}
	proc, err := sb.Exec(ctx, cmd, in)
	if err != nil {
		return stepResult{}, err
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	code, err := proc.Wait(tctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return stepResult{stdout: proc.Stdout(), stderr: proc.Stderr(), timedOut: true}, nil
		}
		return stepResult{}, err
	}
	return stepResult{stdout: proc.Stdout(), stderr: proc.Stderr(), code: code}, nil
}

// destroy tears down sb even if ctx has been cancelled.
func (p *Pipeline) destroy(ctx context.Context, sb sandbox.Sandbox) {
	if err := sb.Destroy(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn().Err(err).Str("sandbox", sb.ID()).Msg("failed to destroy sandbox")
	}
}
