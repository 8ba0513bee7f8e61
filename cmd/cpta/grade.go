package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/JacobLinCool/cpta/internal/batch"
	"github.com/JacobLinCool/cpta/internal/buildconfig"
	"github.com/JacobLinCool/cpta/internal/cases"
	"github.com/JacobLinCool/cpta/internal/config"
)

var (
	forceFlag       bool
	casePatternFlag string
)

var makeCmd = &cobra.Command{
	Use:   "make [workspace...]",
	Short: "Build raw submissions into 1-build",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, args, batch.OpMake)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec [workspace...]",
	Short: "Run every test case against built workspaces into 2-output",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, args, batch.OpExec)
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval [workspace...]",
	Short: "Evaluate case outputs and write 3-result/result.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, args, batch.OpEval)
	},
}

var runCmd = &cobra.Command{
	Use:   "run [workspace...]",
	Short: "Make, exec and eval in one go",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, args, batch.OpMake, batch.OpExec, batch.OpEval)
	},
}

func init() {
	rootCmd.AddCommand(makeCmd, execCmd, evalCmd, runCmd)

	for _, c := range []*cobra.Command{makeCmd, execCmd, runCmd} {
		c.Flags().BoolVarP(&forceFlag, "force", "f", false, "Redo work even if the stage is already done")
	}
	for _, c := range []*cobra.Command{execCmd, evalCmd, runCmd} {
		c.Flags().StringVar(&casePatternFlag, "case-pattern", "", "Only cases whose ID matches this regexp")
	}
}

func runStages(cmd *cobra.Command, args []string, ops ...batch.Op) error {
	ctx := cmd.Context()
	needSandbox := false
	for _, op := range ops {
		needSandbox = needSandbox || op != batch.OpEval
	}

	env, err := prepareRuntimeEnv(ctx, cmd, needSandbox)
	if err != nil {
		return err
	}
	defer env.Close()

	sel, err := selector(patternFlag, append(namesFlag, args...))
	if err != nil {
		return err
	}
	g, err := env.grader(ops)
	if err != nil {
		return err
	}
	return g.run(ctx, env.driver(sel), forceFlag)
}

// grader holds the inputs a sequence of batch operations needs, loaded
// once up front so a bad case manifest fails before any sandbox starts.
type grader struct {
	env   *runtimeEnv
	ops   []batch.Op
	build *buildconfig.Config
	cases []*cases.Case
}

func (r *runtimeEnv) grader(ops []batch.Op) (*grader, error) {
	g := &grader{env: r, ops: ops}
	for _, op := range ops {
		var err error
		switch op {
		case batch.OpMake:
			g.build, err = r.loadBuild()
		case batch.OpExec, batch.OpEval:
			if g.cases == nil {
				g.cases, err = r.loadCases()
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return g, nil
}

// loadBuild reads the build config. The default directory may be absent,
// in which case the build runs on the submission alone; a directory that
// was configured explicitly must exist.
func (r *runtimeEnv) loadBuild() (*buildconfig.Config, error) {
	if r.cfg.Build == config.Default().Build {
		if _, err := os.Stat(r.cfg.Build); errors.Is(err, fs.ErrNotExist) {
			r.logger.Debug().Str("dir", r.cfg.Build).Msg("no build config")
			return nil, nil
		}
	}
	return buildconfig.Load(r.cfg.Build)
}

func (r *runtimeEnv) loadCases() ([]*cases.Case, error) {
	var pattern *regexp.Regexp
	if casePatternFlag != "" {
		re, err := regexp.Compile(casePatternFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid case pattern: %w", err)
		}
		pattern = re
	}
	loader := &cases.Loader{Registry: r.registry}
	cs, err := loader.LoadAll(r.cfg.Cases, pattern)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		r.logger.Warn().Str("dir", r.cfg.Cases).Msg("no test cases found")
	}
	return cs, nil
}

// run applies each operation in order and prints a roll-up for each one.
func (g *grader) run(ctx context.Context, d *batch.Driver, force bool) error {
	for _, op := range g.ops {
		report, err := g.env.record(ctx, d, op, func() (*batch.Report, error) {
			switch op {
			case batch.OpMake:
				return d.MakeAll(ctx, g.build, force)
			case batch.OpExec:
				return d.ExecAll(ctx, g.cases, force)
			default:
				return d.EvalAll(ctx, g.cases)
			}
		})
		if report != nil {
			batch.Summarize(report).Render(os.Stdout)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// gradeNames reruns the full sequence for just the named workspaces.
// Their submissions changed, so earlier stages are redone.
func (g *grader) gradeNames(ctx context.Context, names []string) error {
	sel, err := selector("", names)
	if err != nil {
		return err
	}
	return g.run(ctx, g.env.driver(sel), true)
}
