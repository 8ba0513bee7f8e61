// Package batch applies pipeline stages to every workspace under a root.
//
// A failure in one workspace is recorded and never stops the others. Each
// workspace is handled by exactly one task, so no two operations ever touch
// the same workspace at once.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/JacobLinCool/cpta/internal/buildconfig"
	"github.com/JacobLinCool/cpta/internal/cases"
	"github.com/JacobLinCool/cpta/internal/pipeline"
	"github.com/JacobLinCool/cpta/internal/workspace"
)

// Op names a batch operation.
type Op string

const (
	OpMake Op = "make"
	OpExec Op = "exec"
	OpEval Op = "eval"
)

// Stages is the per-workspace pipeline a Driver runs.
type Stages interface {
	Make(ctx context.Context, ws workspace.Workspace, cfg *buildconfig.Config, force bool) error
	Exec(ctx context.Context, ws workspace.Workspace, c *cases.Case, force bool) error
	Eval(ctx context.Context, ws workspace.Workspace, c *cases.Case) (workspace.Verdict, error)
}

var _ Stages = (*pipeline.Pipeline)(nil)

// Outcome is one recorded result. Case is empty for make outcomes.
type Outcome struct {
	Op        Op
	Workspace string
	Case      string
	OK        bool
	Detail    string
}

// Recorder persists outcomes as they happen.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// Progress reports one finished workspace.
type Progress struct {
	Op        Op
	Workspace string
	Done      int
	Total     int
	Err       error
}

// Failure is one workspace whose operation returned an error.
type Failure struct {
	Workspace string
	Err       error
}

// Failures is sorted by workspace.
type Failures []Failure

// Err joins every failure, or returns nil.
func (f Failures) Err() error {
	errs := make([]error, 0, len(f))
	for _, fail := range f {
		errs = append(errs, fmt.Errorf("%s: %w", fail.Workspace, fail.Err))
	}
	return errors.Join(errs...)
}

// Report is the outcome of one batch operation.
type Report struct {
	Op         Op
	Workspaces []string
	Failures   Failures
	// Results holds the evaluated workspaces of an eval batch.
	Results map[string]workspace.Result
}

// Driver runs batch operations.
type Driver struct {
	Pipeline Stages
	Root     string
	Select   workspace.Selector
	// Concurrency bounds how many workspaces are processed at once.
	// Values below 1 mean one.
	Concurrency int
	Recorder    Recorder
	Progress    func(Progress)
	Logger      zerolog.Logger
}

// MakeAll builds every selected workspace.
func (d *Driver) MakeAll(ctx context.Context, cfg *buildconfig.Config, force bool) (*Report, error) {
	return d.each(ctx, OpMake, func(ctx context.Context, ws workspace.Workspace) error {
		err := d.Pipeline.Make(ctx, ws, cfg, force)
		if !pipeline.IsStageError(err) {
			d.record(ctx, Outcome{Op: OpMake, Workspace: ws.Name, OK: err == nil, Detail: Diagnostic(err)})
		}
		return err
	})
}

// ExecAll runs every case against every selected workspace. Errors from
// individual cases are joined per workspace.
func (d *Driver) ExecAll(ctx context.Context, cs []*cases.Case, force bool) (*Report, error) {
	return d.each(ctx, OpExec, func(ctx context.Context, ws workspace.Workspace) error {
		var errs []error
		for _, c := range cs {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := d.Pipeline.Exec(ctx, ws, c, force)
			if pipeline.IsStageError(err) {
				return err
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("case %s: %w", c.ID, err))
			}
			d.record(ctx, Outcome{Op: OpExec, Workspace: ws.Name, Case: c.ID, OK: err == nil, Detail: Diagnostic(err)})
		}
		return errors.Join(errs...)
	})
}

// EvalAll evaluates every case of every selected workspace and replaces
// each workspace's result record as soon as its cases are done.
func (d *Driver) EvalAll(ctx context.Context, cs []*cases.Case) (*Report, error) {
	results := xsync.NewMapOf[string, workspace.Result]()
	report, err := d.each(ctx, OpEval, func(ctx context.Context, ws workspace.Workspace) error {
		result := workspace.Result{}
		for _, c := range cs {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := d.Pipeline.Eval(ctx, ws, c)
			if err != nil {
				return err
			}
			result.Add(c.ID, v)
			d.record(ctx, Outcome{Op: OpEval, Workspace: ws.Name, Case: c.ID, OK: v.Passed, Detail: v.Detail})
		}
		if err := ws.WriteResult(result); err != nil {
			return err
		}
		results.Store(ws.Name, result)
		return nil
	})
	if report != nil {
		report.Results = make(map[string]workspace.Result, results.Size())
		results.Range(func(name string, r workspace.Result) bool {
			report.Results[name] = r
			return true
		})
	}
	return report, err
}

// each runs fn over the selected workspaces on a bounded pool. The returned
// error is reserved for checkout problems and cancellation.
func (d *Driver) each(ctx context.Context, op Op, fn func(context.Context, workspace.Workspace) error) (*Report, error) {
	all, err := workspace.Checkout(d.Root, d.Select)
	if err != nil {
		return nil, err
	}

	report := &Report{Op: op, Workspaces: make([]string, len(all))}
	for i, ws := range all {
		report.Workspaces[i] = ws.Name
	}

	failures := xsync.NewMapOf[string, error]()
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(max(d.Concurrency, 1))
	for _, ws := range all {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			log := d.Logger.With().Str("op", string(op)).Str("workspace", ws.Name).Logger()
			err := fn(ctx, ws)
			if err != nil {
				failures.Store(ws.Name, err)
				log.Warn().Err(err).Msg("workspace failed")
			} else {
				log.Debug().Msg("workspace done")
			}
			if d.Progress != nil {
				d.Progress(Progress{Op: op, Workspace: ws.Name, Done: int(done.Add(1)), Total: len(all), Err: err})
			}
			return nil
		})
	}
	g.Wait()

	failures.Range(func(name string, err error) bool {
		report.Failures = append(report.Failures, Failure{Workspace: name, Err: err})
		return true
	})
	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Workspace < report.Failures[j].Workspace
	})
	return report, ctx.Err()
}

func (d *Driver) record(ctx context.Context, o Outcome) {
	if d.Recorder == nil {
		return
	}
	if err := d.Recorder.Record(context.WithoutCancel(ctx), o); err != nil {
		d.Logger.Warn().Err(err).Str("workspace", o.Workspace).Msg("failed to record outcome")
	}
}
