//go:build !windows

package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newHostSandbox(t *testing.T, restores ...string) Sandbox {
	t.Helper()
	p, err := NewHostProvisioner(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	sb, err := p.Create(context.Background(), Spec{Restores: restores, Env: []string{"CPTA_TEST=42"}})
	require.NoError(t, err)
	t.Cleanup(func() { sb.Destroy(context.Background()) })
	return sb
}

func TestHostRestoreOrderLaterWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, filepath.Join(first, "Makefile"), "from-config")
	writeFile(t, filepath.Join(first, "only-config"), "x")
	writeFile(t, filepath.Join(second, "Makefile"), "from-raw")

	sb := newHostSandbox(t, first, second)
	p, err := sb.Exec(context.Background(), []string{"cat", "Makefile", "only-config"}, nil)
	require.NoError(t, err)
	code, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Equal(t, "from-rawx", p.Stdout())
}

func TestHostExec(t *testing.T) {
	sb := newHostSandbox(t)

	tests := []struct {
		name   string
		cmd    []string
		stdin  string
		code   int
		stdout string
		stderr string
	}{
		{name: "stdin echoed", cmd: []string{"cat"}, stdin: "3\n", stdout: "3\n"},
		{name: "non-zero exit", cmd: []string{"sh", "-c", "echo boom >&2; exit 1"}, code: 1, stderr: "boom\n"},
		{name: "env injected", cmd: []string{"sh", "-c", "echo $CPTA_TEST"}, stdout: "42\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdin io.Reader
			if tt.stdin != "" {
				stdin = strings.NewReader(tt.stdin)
			}
			p, err := sb.Exec(context.Background(), tt.cmd, stdin)
			require.NoError(t, err)
			code, err := p.Wait(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.code, code)
			require.Equal(t, tt.stdout, p.Stdout())
			require.Equal(t, tt.stderr, p.Stderr())
		})
	}
}

func TestHostStoreUnpackedAndArchive(t *testing.T) {
	raw := t.TempDir()
	writeFile(t, filepath.Join(raw, "main.c"), "int main(){}")
	sb := newHostSandbox(t, raw)

	p, err := sb.Exec(context.Background(), []string{"sh", "-c", "echo built > prog"}, nil)
	require.NoError(t, err)
	_, err = p.Wait(context.Background())
	require.NoError(t, err)

	unpacked := filepath.Join(t.TempDir(), "1-build")
	writeFile(t, filepath.Join(unpacked, "old"), "stale")
	require.NoError(t, sb.Store(context.Background(), unpacked, true))

	data, err := os.ReadFile(filepath.Join(unpacked, "prog"))
	require.NoError(t, err)
	require.Equal(t, "built\n", string(data))
	_, err = os.Stat(filepath.Join(unpacked, "old"))
	require.True(t, os.IsNotExist(err))

	packed := filepath.Join(t.TempDir(), "build.tar.zst")
	require.NoError(t, sb.Store(context.Background(), packed, false))

	// A stored archive is itself a valid restore path.
	again := newHostSandbox(t, packed)
	p, err = again.Exec(context.Background(), []string{"cat", "prog", "main.c"}, nil)
	require.NoError(t, err)
	_, err = p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "built\nint main(){}", p.Stdout())
}

func TestHostCopy(t *testing.T) {
	sb := newHostSandbox(t)
	src := filepath.Join(t.TempDir(), "input.txt")
	writeFile(t, src, "payload")

	require.NoError(t, sb.Copy(context.Background(), src, "data"))
	p, err := sb.Exec(context.Background(), []string{"cat", "data/input.txt"}, nil)
	require.NoError(t, err)
	_, err = p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "payload", p.Stdout())
}

func TestHostCreateMissingRestore(t *testing.T) {
	p, err := NewHostProvisioner(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Create(context.Background(), Spec{Restores: []string{filepath.Join(t.TempDir(), "missing")}})
	var creation *CreationError
	require.True(t, errors.As(err, &creation))
}

func TestHostDestroyReclaimsRunawayProcess(t *testing.T) {
	sb := newHostSandbox(t)
	p, err := sb.Exec(context.Background(), []string{"sleep", "60"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, sb.Destroy(context.Background()))
	require.NoError(t, sb.Destroy(context.Background()), "destroy is idempotent")

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("destroy did not reclaim the running process")
	}
}

func TestHostShellStartsInWorkDir(t *testing.T) {
	raw := t.TempDir()
	writeFile(t, filepath.Join(raw, "main.c"), "int main(){}")
	sb := newHostSandbox(t, raw)

	sh, ok := sb.(Shell)
	require.True(t, ok)
	t.Setenv("SHELL", "/bin/sh")
	c := sh.ShellCommand(context.Background())
	c.Args = append(c.Args, "-c", "ls; echo $CPTA_TEST")
	out, err := c.Output()
	require.NoError(t, err)
	require.Equal(t, "main.c\n42\n", string(out))
}
