// Package cases defines gradeable checks and loads them from case
// directories.
//
// A case is an ordered list of steps run inside one sandbox plus an
// evaluator that decides pass or fail from the captured output. Steps and
// evaluators are closed variants: the pipeline switches over the concrete
// types below and never dispatches on author-supplied code. Author-defined
// behavior enters only through the extension Registry.
package cases

import "context"

// Case is one named check.
type Case struct {
	ID        string
	Dir       string
	Steps     []Step
	Evaluator Evaluator
	// MountDir, if set, is restored into the sandbox after the build
	// artifact and wins on conflicts.
	MountDir string
}

// Step is either a Command or an Extension.
type Step interface {
	isStep()
}

// Command runs Args inside the sandbox with Stdin attached.
type Command struct {
	Args  []string
	Stdin string
}

// Extension runs a self-contained action on the host.
type Extension struct {
	Name   string
	Action Action
}

func (Command) isStep()   {}
func (Extension) isStep() {}

// Action is the body of an Extension step. inputDir is the workspace's
// build artifact; outputDir is the case's output directory, which the action
// may write its own files into.
type Action interface {
	Exec(ctx context.Context, inputDir, outputDir string) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, inputDir, outputDir string) error

func (f ActionFunc) Exec(ctx context.Context, inputDir, outputDir string) error {
	return f(ctx, inputDir, outputDir)
}

// Evaluator is either a Function or Interactive.
type Evaluator interface {
	isEvaluator()
}

// Function passes when Check returns nil. The error text becomes the
// failure detail.
type Function struct {
	Check func(stdout, stderr string) error
}

// Interactive defers the decision to a human judge.
type Interactive struct{}

func (Function) isEvaluator()    {}
func (Interactive) isEvaluator() {}
