package main

import (
	"github.com/spf13/cobra"

	"github.com/JacobLinCool/cpta/internal/batch"
	"github.com/JacobLinCool/cpta/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Grade workspaces as submissions arrive under the workspace root",
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&casePatternFlag, "case-pattern", "", "Only cases whose ID matches this regexp")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := prepareRuntimeEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer env.Close()

	g, err := env.grader([]batch.Op{batch.OpMake, batch.OpExec, batch.OpEval})
	if err != nil {
		return err
	}

	// Reports are delivered one batch at a time, so a workspace is never
	// graded twice concurrently.
	w, err := watch.New(env.cfg.Root, env.cfg.Watch.Quiet, env.logger, func(names []string) {
		if err := g.gradeNames(ctx, names); err != nil {
			env.logger.Error().Err(err).Strs("workspaces", names).Msg("grading failed")
		}
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	env.logger.Info().Str("root", env.cfg.Root).Msg("watching for submissions, press Ctrl-C to stop")

	<-ctx.Done()
	return w.Stop()
}
