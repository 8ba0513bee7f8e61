package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JacobLinCool/cpta/internal/buildconfig"
	"github.com/JacobLinCool/cpta/internal/cases"
	"github.com/JacobLinCool/cpta/internal/judge"
	"github.com/JacobLinCool/cpta/internal/sandbox"
	"github.com/JacobLinCool/cpta/internal/workspace"
)

// reply scripts what a fake command does. A hanging command never exits
// until its sandbox is destroyed.
type reply struct {
	stdout string
	stderr string
	code   int
	hang   bool
	err    error
}

type fakeProvisioner struct {
	mu        sync.Mutex
	specs     []sandbox.Spec
	destroyed int
	createErr error
	respond   func(cmd []string, stdin string) reply
}

func (p *fakeProvisioner) Create(ctx context.Context, spec sandbox.Spec) (sandbox.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.specs = append(p.specs, spec)
	return &fakeSandbox{owner: p, gone: make(chan struct{})}, nil
}

func (p *fakeProvisioner) created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.specs)
}

type fakeSandbox struct {
	owner *fakeProvisioner
	gone  chan struct{}
	once  sync.Once
	cmds  [][]string
}

func (s *fakeSandbox) ID() string { return "fake" }

func (s *fakeSandbox) Exec(ctx context.Context, cmd []string, stdin io.Reader) (*sandbox.Process, error) {
	s.cmds = append(s.cmds, cmd)
	var in string
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		in = string(data)
	}
	r := reply{}
	if s.owner.respond != nil {
		r = s.owner.respond(cmd, in)
	}
	return sandbox.StartProcess(0, func(stdout, stderr io.Writer) (int, error) {
		if r.hang {
			<-s.gone
			return -1, nil
		}
		io.WriteString(stdout, r.stdout)
		io.WriteString(stderr, r.stderr)
		return r.code, r.err
	}), nil
}

func (s *fakeSandbox) Store(ctx context.Context, dest string, unpacked bool) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "snapshot"), []byte(strings.Join(s.cmdLines(), "\n")), 0644)
}

func (s *fakeSandbox) cmdLines() []string {
	var lines []string
	for _, c := range s.cmds {
		lines = append(lines, strings.Join(c, " "))
	}
	return lines
}

func (s *fakeSandbox) Copy(ctx context.Context, src, dest string) error { return nil }

func (s *fakeSandbox) Destroy(ctx context.Context) error {
	s.once.Do(func() {
		close(s.gone)
		s.owner.mu.Lock()
		s.owner.destroyed++
		s.owner.mu.Unlock()
	})
	return nil
}

func newWorkspace(t *testing.T, stage workspace.Stage) workspace.Workspace {
	t.Helper()
	ws := workspace.New(t.TempDir(), "alice")
	for s := workspace.StageRaw; s <= stage; s++ {
		require.NoError(t, os.MkdirAll(ws.Path(s), 0755))
	}
	return ws
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func writeOutput(t *testing.T, ws workspace.Workspace, caseID, stdout, stderr string) {
	t.Helper()
	dir := ws.CaseOutputDir(caseID)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, workspace.StdoutLog), []byte(stdout), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, workspace.StderrLog), []byte(stderr), 0644))
}

func containsDone(stdout, _ string) error {
	if !strings.Contains(stdout, "done") {
		return errors.New("stdout does not contain \"done\"")
	}
	return nil
}

func TestMakeRequiresRaw(t *testing.T) {
	prov := &fakeProvisioner{}
	p := New(prov)
	ws := workspace.New(t.TempDir(), "ghost")

	err := p.Make(context.Background(), ws, nil, false)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, workspace.StageNone, se.Have)
	assert.Equal(t, workspace.StageRaw, se.Need)
	assert.Zero(t, prov.created())
}

func TestMakeSnapshotsAndIsIdempotent(t *testing.T) {
	prov := &fakeProvisioner{}
	p := New(prov)
	ws := newWorkspace(t, workspace.StageRaw)

	require.NoError(t, p.Make(context.Background(), ws, nil, false))
	assert.Equal(t, workspace.StageBuild, ws.Stage())
	assert.Equal(t, "make", readFile(t, filepath.Join(ws.BuildDir(), "snapshot")))
	require.NoError(t, os.WriteFile(filepath.Join(ws.BuildDir(), "marker"), []byte("keep"), 0644))

	require.NoError(t, p.Make(context.Background(), ws, nil, false))
	assert.Equal(t, 1, prov.created())
	assert.Equal(t, "keep", readFile(t, filepath.Join(ws.BuildDir(), "marker")))

	require.NoError(t, p.Make(context.Background(), ws, nil, true))
	assert.Equal(t, 2, prov.created())
	assert.NoFileExists(t, filepath.Join(ws.BuildDir(), "marker"))
	assert.Equal(t, 2, prov.destroyed)
}

func TestMakeBuildFailureStillSnapshots(t *testing.T) {
	prov := &fakeProvisioner{respond: func([]string, string) reply {
		return reply{stderr: "main.c:1: error\n", code: 2}
	}}
	p := New(prov)
	ws := newWorkspace(t, workspace.StageRaw)

	err := p.Make(context.Background(), ws, nil, false)
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 2, be.Code)
	assert.Equal(t, "main.c:1: error", be.Error())
	assert.Equal(t, workspace.StageBuild, ws.Stage())
	assert.FileExists(t, filepath.Join(ws.BuildDir(), "snapshot"))
	assert.Equal(t, 1, prov.destroyed)
}

func TestMakeTimeout(t *testing.T) {
	prov := &fakeProvisioner{respond: func([]string, string) reply { return reply{hang: true} }}
	p := New(prov, WithStepTimeout(50*time.Millisecond))
	ws := newWorkspace(t, workspace.StageRaw)

	err := p.Make(context.Background(), ws, nil, false)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TimeoutMessage, err.Error())
	assert.Equal(t, workspace.StageBuild, ws.Stage())
	assert.Equal(t, 1, prov.destroyed)
}

func TestMakeUsesBuildConfig(t *testing.T) {
	prov := &fakeProvisioner{}
	p := New(prov, WithImage("gcc:13"))
	ws := newWorkspace(t, workspace.StageRaw)
	cfg := &buildconfig.Config{
		MountDir: "/configs/hw1/mount",
		Env:      []string{"TARGET=hw1"},
		Command:  []string{"make", "all"},
	}

	require.NoError(t, p.Make(context.Background(), ws, cfg, false))
	require.Len(t, prov.specs, 1)
	spec := prov.specs[0]
	assert.Equal(t, []string{"/configs/hw1/mount", ws.RawDir()}, spec.Restores)
	assert.Equal(t, []string{"TARGET=hw1"}, spec.Env)
	assert.Equal(t, "gcc:13", spec.Image)
	assert.Equal(t, "make all", readFile(t, filepath.Join(ws.BuildDir(), "snapshot")))
}

func TestMakeCreationErrorLeavesStage(t *testing.T) {
	prov := &fakeProvisioner{createErr: &sandbox.CreationError{Path: "/nope"}}
	p := New(prov)
	ws := newWorkspace(t, workspace.StageRaw)

	err := p.Make(context.Background(), ws, nil, false)
	var ce *sandbox.CreationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, workspace.StageRaw, ws.Stage())
}

func TestExecRequiresBuild(t *testing.T) {
	prov := &fakeProvisioner{}
	p := New(prov)
	ws := newWorkspace(t, workspace.StageRaw)
	c := &cases.Case{ID: "C1", Steps: []cases.Step{cases.Command{Args: []string{"./prog"}}}}

	err := p.Exec(context.Background(), ws, c, false)
	assert.True(t, IsStageError(err))
	assert.NoDirExists(t, ws.CaseOutputDir("C1"))
	assert.Zero(t, prov.created())
}

func TestExecConcatenatesStepOutput(t *testing.T) {
	prov := &fakeProvisioner{respond: func(cmd []string, stdin string) reply {
		switch cmd[0] {
		case "./prog":
			return reply{stdout: "got " + stdin}
		case "./fail":
			return reply{stdout: "partial", stderr: "boom", code: 1}
		default:
			return reply{}
		}
	}}
	p := New(prov)
	ws := newWorkspace(t, workspace.StageBuild)
	c := &cases.Case{ID: "C1", MountDir: "/cases/C1/mount", Steps: []cases.Step{
		cases.Command{Args: []string{"./prog"}, Stdin: "3\n"},
		cases.Command{Args: []string{"./fail"}},
		cases.Command{Args: []string{"true"}},
	}}

	require.NoError(t, p.Exec(context.Background(), ws, c, false))
	dir := ws.CaseOutputDir("C1")
	assert.Equal(t, "got 3\n\npartial\n\n", readFile(t, filepath.Join(dir, workspace.StdoutLog)))
	assert.Equal(t, "\nReceived non-zero exit code: 1\nboom\n\n", readFile(t, filepath.Join(dir, workspace.StderrLog)))
	assert.Equal(t, []string{ws.BuildDir(), "/cases/C1/mount"}, prov.specs[0].Restores)
	assert.Equal(t, 1, prov.destroyed)
	assert.Equal(t, workspace.StageOutput, ws.Stage())
}

func TestExecTimeoutDoesNotStopLaterSteps(t *testing.T) {
	prov := &fakeProvisioner{respond: func(cmd []string, _ string) reply {
		if cmd[0] == "sleep" {
			return reply{hang: true}
		}
		return reply{stdout: "after"}
	}}
	p := New(prov, WithStepTimeout(50*time.Millisecond))
	ws := newWorkspace(t, workspace.StageBuild)
	c := &cases.Case{ID: "C1", Steps: []cases.Step{
		cases.Command{Args: []string{"sleep", "infinity"}},
		cases.Command{Args: []string{"echo"}},
	}}

	require.NoError(t, p.Exec(context.Background(), ws, c, false))
	dir := ws.CaseOutputDir("C1")
	assert.Equal(t, "after\n", readFile(t, filepath.Join(dir, workspace.StdoutLog)))
	assert.Contains(t, readFile(t, filepath.Join(dir, workspace.StderrLog)), "Killed due to timeout.")
	assert.Equal(t, 1, prov.destroyed)
}

func TestExecSkipsExistingOutputUnlessForced(t *testing.T) {
	prov := &fakeProvisioner{respond: func([]string, string) reply { return reply{stdout: "new"} }}
	p := New(prov)
	ws := newWorkspace(t, workspace.StageBuild)
	writeOutput(t, ws, "C1", "old\n", "")
	c := &cases.Case{ID: "C1", Steps: []cases.Step{cases.Command{Args: []string{"./prog"}}}}

	require.NoError(t, p.Exec(context.Background(), ws, c, false))
	assert.Zero(t, prov.created())
	assert.Equal(t, "old\n", readFile(t, filepath.Join(ws.CaseOutputDir("C1"), workspace.StdoutLog)))

	require.NoError(t, p.Exec(context.Background(), ws, c, true))
	assert.Equal(t, "new\n", readFile(t, filepath.Join(ws.CaseOutputDir("C1"), workspace.StdoutLog)))
}

func TestExecExtensionStep(t *testing.T) {
	prov := &fakeProvisioner{}
	p := New(prov)
	ws := newWorkspace(t, workspace.StageBuild)

	var gotInput string
	ok := cases.ActionFunc(func(ctx context.Context, in, out string) error {
		gotInput = in
		return os.WriteFile(filepath.Join(out, "report.json"), []byte("{}"), 0644)
	})
	broken := cases.ActionFunc(func(context.Context, string, string) error {
		return errors.New("no API key")
	})
	c := &cases.Case{ID: "C1", Steps: []cases.Step{
		cases.Extension{Name: "report", Action: ok},
		cases.Extension{Name: "broken", Action: broken},
	}}

	require.NoError(t, p.Exec(context.Background(), ws, c, false))
	dir := ws.CaseOutputDir("C1")
	assert.Equal(t, ws.BuildDir(), gotInput)
	assert.FileExists(t, filepath.Join(dir, "report.json"))
	assert.Equal(t, "", readFile(t, filepath.Join(dir, workspace.StdoutLog)))
	assert.Equal(t, "Extension broken failed: no API key\n", readFile(t, filepath.Join(dir, workspace.StderrLog)))
}

func TestExecOutputLimitFailsWithoutArtifact(t *testing.T) {
	prov := &fakeProvisioner{respond: func([]string, string) reply {
		return reply{err: sandbox.ErrOutputLimit}
	}}
	p := New(prov)
	ws := newWorkspace(t, workspace.StageBuild)
	c := &cases.Case{ID: "C1", Steps: []cases.Step{cases.Command{Args: []string{"yes"}}}}

	err := p.Exec(context.Background(), ws, c, false)
	require.ErrorIs(t, err, sandbox.ErrOutputLimit)
	assert.NoDirExists(t, ws.CaseOutputDir("C1"))
	assert.Equal(t, 1, prov.destroyed)
}

func TestEval(t *testing.T) {
	ws := newWorkspace(t, workspace.StageOutput)
	writeOutput(t, ws, "pass", "done\n", "")
	writeOutput(t, ws, "fail", "nope\n", "boom\n")
	writeOutput(t, ws, "panic", "", "")
	writeOutput(t, ws, "nil", "", "")

	p := New(&fakeProvisioner{})
	tests := []struct {
		name string
		c    *cases.Case
		want workspace.Verdict
	}{
		{"pass", &cases.Case{ID: "pass", Evaluator: cases.Function{Check: containsDone}}, workspace.Pass()},
		{"fail", &cases.Case{ID: "fail", Evaluator: cases.Function{Check: func(string, string) error {
			return errors.New("  X\n")
		}}}, workspace.Fail("X")},
		{"check message", &cases.Case{ID: "fail", Evaluator: cases.Function{Check: containsDone}},
			workspace.Fail(`stdout does not contain "done"`)},
		{"panic", &cases.Case{ID: "panic", Evaluator: cases.Function{Check: func(string, string) error {
			panic("oops")
		}}}, workspace.Fail(UnknownErrorDetail)},
		{"nil check", &cases.Case{ID: "nil", Evaluator: cases.Function{}}, workspace.Pass()},
		{"missing output", &cases.Case{ID: "never-ran", Evaluator: cases.Function{Check: containsDone}},
			workspace.Fail(NoOutputDetail)},
		{"unsupported evaluator", &cases.Case{ID: "pass"}, workspace.Fail(UnknownErrorDetail)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Eval(context.Background(), ws, tt.c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalRequiresOutput(t *testing.T) {
	p := New(&fakeProvisioner{})
	ws := newWorkspace(t, workspace.StageBuild)

	_, err := p.Eval(context.Background(), ws, &cases.Case{ID: "C1"})
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "eval", se.Op)
}

func TestEvalInteractive(t *testing.T) {
	ws := newWorkspace(t, workspace.StageOutput)
	writeOutput(t, ws, "C1", "shown\n", "")
	c := &cases.Case{ID: "C1", Evaluator: cases.Interactive{}}

	var seen judge.Request
	j := judge.Func(func(_ context.Context, req judge.Request) (judge.Decision, error) {
		seen = req
		return judge.Decision{Reason: "wrong prompt"}, nil
	})
	got, err := New(&fakeProvisioner{}, WithJudge(j)).Eval(context.Background(), ws, c)
	require.NoError(t, err)
	assert.Equal(t, workspace.Fail("wrong prompt"), got)
	assert.Equal(t, judge.Request{Workspace: "alice", Case: "C1", Stdout: "shown\n"}, seen)

	got, err = New(&fakeProvisioner{}).Eval(context.Background(), ws, c)
	require.NoError(t, err)
	assert.Equal(t, workspace.Fail(judge.ErrNoJudge.Error()), got)
}
