// Package judge asks a human to decide cases that cannot be checked
// automatically.
package judge

import (
	"context"
	"errors"
)

// ErrNoJudge is returned when an interactive case is evaluated without a judge.
var ErrNoJudge = errors.New("no judge available for interactive evaluation")

// Request is what the operator is shown.
type Request struct {
	Workspace string
	Case      string
	Stdout    string
	Stderr    string
}

// Decision is the operator's answer. Reason is only collected on failure.
type Decision struct {
	Passed bool
	Reason string
}

// Judge decides interactive cases. Implementations may block for as long
// as the operator takes.
type Judge interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

// Func adapts a function to Judge.
type Func func(ctx context.Context, req Request) (Decision, error)

func (f Func) Decide(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// Refuse is a Judge that fails every interactive case. It is used for
// unattended runs.
var Refuse Judge = Func(func(context.Context, Request) (Decision, error) {
	return Decision{}, ErrNoJudge
})
