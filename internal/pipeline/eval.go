package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JacobLinCool/cpta/internal/cases"
	"github.com/JacobLinCool/cpta/internal/judge"
	"github.com/JacobLinCool/cpta/internal/workspace"
)

const (
	// NoOutputDetail is the verdict detail of a case that was never executed.
	NoOutputDetail = "No output directory"
	// UnknownErrorDetail is the verdict detail of an evaluation that broke
	// for reasons unrelated to the submission.
	UnknownErrorDetail = "Unknown error"
)

// Eval judges one case from its recorded output. Evaluation never fails
// because of the submission: every problem becomes a failed verdict. The
// only error is a StageError.
func (p *Pipeline) Eval(ctx context.Context, ws workspace.Workspace, c *cases.Case) (v workspace.Verdict, err error) {
	stage := ws.Stage()
	if stage < workspace.StageOutput {
		return workspace.Verdict{}, &StageError{Op: "eval", Workspace: ws.Name, Have: stage, Need: workspace.StageOutput}
	}
	if !ws.HasOutput(c.ID) {
		return workspace.Fail(NoOutputDetail), nil
	}

	log := p.logger.With().Str("workspace", ws.Name).Str("case", c.ID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("evaluator panicked")
			v, err = workspace.Fail(UnknownErrorDetail), nil
		}
	}()

	stdout, stderr, err := readLogs(ws.CaseOutputDir(c.ID))
	if err != nil {
		log.Error().Err(err).Msg("failed to read case output")
		return workspace.Fail(UnknownErrorDetail), nil
	}

	switch e := c.Evaluator.(type) {
	case cases.Function:
		if e.Check == nil {
			return workspace.Pass(), nil
		}
		if err := e.Check(stdout, stderr); err != nil {
			return workspace.Fail(strings.TrimSpace(err.Error())), nil
		}
		return workspace.Pass(), nil

	case cases.Interactive:
		d, err := p.judge.Decide(ctx, judge.Request{Workspace: ws.Name, Case: c.ID, Stdout: stdout, Stderr: stderr})
		if err != nil {
			log.Warn().Err(err).Msg("interactive evaluation failed")
			return workspace.Fail(strings.TrimSpace(err.Error())), nil
		}
		if d.Passed {
			return workspace.Pass(), nil
		}
		return workspace.Fail(d.Reason), nil

	default:
		log.Error().Str("evaluator", fmt.Sprintf("%T", c.Evaluator)).Msg("unsupported evaluator")
		return workspace.Fail(UnknownErrorDetail), nil
	}
}

func readLogs(dir string) (stdout, stderr string, err error) {
	out, err := os.ReadFile(filepath.Join(dir, workspace.StdoutLog))
	if err != nil {
		return "", "", err
	}
	errOut, err := os.ReadFile(filepath.Join(dir, workspace.StderrLog))
	if err != nil {
		return "", "", err
	}
	return string(out), string(errOut), nil
}
