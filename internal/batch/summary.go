package batch

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/JacobLinCool/cpta/internal/pipeline"
)

// CaseFailure is one case that did not pass.
type CaseFailure struct {
	Workspace string
	Case      string
	Detail    string
}

// Summary is the roll-up printed at the end of a batch.
type Summary struct {
	Op          Op
	Total       int
	Failed      []Failure
	FailedCases []CaseFailure
}

// Summarize collects the failing entries of a report.
func Summarize(r *Report) Summary {
	s := Summary{Op: r.Op, Total: len(r.Workspaces), Failed: r.Failures}

	names := make([]string, 0, len(r.Results))
	for name := range r.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, e := range r.Results[name].Failed() {
			s.FailedCases = append(s.FailedCases, CaseFailure{Workspace: name, Case: e.Case, Detail: e.Verdict.Detail})
		}
	}
	return s
}

// OK reports whether nothing failed.
func (s Summary) OK() bool {
	return len(s.Failed) == 0 && len(s.FailedCases) == 0
}

// Render writes the roll-up to w.
func (s Summary) Render(w io.Writer) {
	bold := color.New(color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	if s.OK() {
		fmt.Fprintf(w, "%s %s: %d workspaces, no failures\n", green("✓"), s.Op, s.Total)
		return
	}

	fmt.Fprintf(w, "%s %s: %d of %d workspaces failed", red("✗"), s.Op, len(s.Failed), s.Total)
	if len(s.FailedCases) > 0 {
		fmt.Fprintf(w, ", %d failed cases", len(s.FailedCases))
	}
	fmt.Fprintln(w)

	for _, f := range s.Failed {
		fmt.Fprintf(w, "\n%s\n", bold(f.Workspace))
		fmt.Fprintln(w, Indent(Diagnostic(f.Err)))
	}
	for _, c := range s.FailedCases {
		fmt.Fprintf(w, "\n%s %s\n", bold(c.Workspace+":"+c.Case), red("failed"))
		if c.Detail != "" {
			fmt.Fprintln(w, Indent(c.Detail))
		}
	}
}

// Diagnostic returns the text worth showing for err: a failed build's
// stderr, the timeout marker, or the error message.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	var be *pipeline.BuildError
	if errors.As(err, &be) {
		return be.Error()
	}
	var te *pipeline.TimeoutError
	if errors.As(err, &te) {
		return pipeline.TimeoutMessage
	}
	return err.Error()
}

// Indent prefixes every line of s with four spaces.
func Indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
