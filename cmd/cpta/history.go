package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JacobLinCool/cpta/internal/batch"
	"github.com/JacobLinCool/cpta/internal/ledger"
)

var (
	historyOpFlag  string
	historyAllFlag bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the failures of the last recorded run",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyOpFlag, "op", "", "Only runs of this operation (make, exec, eval)")
	historyCmd.Flags().BoolVar(&historyAllFlag, "all", false, "Show passing outcomes too")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	op := batch.Op(historyOpFlag)
	switch op {
	case "", batch.OpMake, batch.OpExec, batch.OpEval:
	default:
		return fmt.Errorf("unknown operation %q (supported: make, exec, eval)", historyOpFlag)
	}

	l, err := ledger.Open(ctx, cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer l.Close()

	run, err := l.LastRun(ctx, op)
	if errors.Is(err, ledger.ErrNoRuns) {
		fmt.Println("no runs recorded")
		return nil
	}
	if err != nil {
		return err
	}

	outcomes, err := l.Outcomes(ctx, run.ID, !historyAllFlag)
	if err != nil {
		return err
	}
	printHistory(os.Stdout, run, outcomes)
	return nil
}

func printHistory(w io.Writer, run ledger.Run, outcomes []batch.Outcome) {
	bold := color.New(color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	finished := "unfinished"
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
	}
	fmt.Fprintf(w, "%s %s on %s at %s (%s)\n", bold("run"), run.Op, run.Root,
		run.StartedAt.Format(time.DateTime), finished)

	if len(outcomes) == 0 {
		fmt.Fprintf(w, "%s no failures\n", green("✓"))
		return
	}
	for _, o := range outcomes {
		name := o.Workspace
		if o.Case != "" {
			name += ":" + o.Case
		}
		mark := green("✓")
		if !o.OK {
			mark = red("✗")
		}
		fmt.Fprintf(w, "%s %s\n", mark, name)
		if o.Detail != "" {
			fmt.Fprintln(w, batch.Indent(o.Detail))
		}
	}
}
