//go:build !windows

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JacobLinCool/cpta/internal/cases"
	"github.com/JacobLinCool/cpta/internal/sandbox"
	"github.com/JacobLinCool/cpta/internal/workspace"
)

// A full pass over the host sandbox exercises the stage machine end to end.
func TestPipelineOnHostSandbox(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	prov, err := sandbox.NewHostProvisioner(sandbox.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	ws := newWorkspace(t, workspace.StageRaw)
	require.NoError(t, os.WriteFile(filepath.Join(ws.RawDir(), "prog.sh"), []byte("#!/bin/sh\nread n; echo \"n=$n\"; echo done\n"), 0755))

	p := New(prov, WithBuildCommand([]string{"sh", "-c", "cp prog.sh prog && chmod +x prog"}))
	require.NoError(t, p.Make(context.Background(), ws, nil, false))
	assert.FileExists(t, filepath.Join(ws.BuildDir(), "prog"))

	c := &cases.Case{
		ID:        "C1",
		Steps:     []cases.Step{cases.Command{Args: []string{"./prog"}, Stdin: "3\n"}},
		Evaluator: cases.Function{Check: containsDone},
	}
	require.NoError(t, p.Exec(context.Background(), ws, c, false))
	assert.Equal(t, "n=3\ndone\n\n", readFile(t, filepath.Join(ws.CaseOutputDir("C1"), workspace.StdoutLog)))

	v, err := p.Eval(context.Background(), ws, c)
	require.NoError(t, err)
	assert.Equal(t, workspace.Pass(), v)
}
