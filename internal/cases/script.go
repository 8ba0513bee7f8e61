package cases

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ScriptTimeout bounds a host evaluator script.
const ScriptTimeout = 30 * time.Second

// Script returns a Function evaluator that runs argv on the host from
// caseDir. The script receives stdout on stdin and the paths of both logs in
// CPTA_STDOUT and CPTA_STDERR. A zero exit passes; otherwise the script's
// output is the failure detail.
func Script(caseDir string, argv []string) (Function, error) {
	if len(argv) == 0 {
		return Function{}, errors.New("empty script command")
	}
	return Function{Check: func(stdout, stderr string) error {
		return runScript(caseDir, argv, stdout, stderr)
	}}, nil
}

func runScript(caseDir string, argv []string, stdout, stderr string) error {
	tmp, err := os.MkdirTemp("", "cpta-eval-")
	if err != nil {
		return fmt.Errorf("failed to prepare evaluator: %w", err)
	}
	defer os.RemoveAll(tmp)

	stdoutPath := filepath.Join(tmp, "stdout.log")
	stderrPath := filepath.Join(tmp, "stderr.log")
	if err := os.WriteFile(stdoutPath, []byte(stdout), 0644); err != nil {
		return fmt.Errorf("failed to prepare evaluator: %w", err)
	}
	if err := os.WriteFile(stderrPath, []byte(stderr), 0644); err != nil {
		return fmt.Errorf("failed to prepare evaluator: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ScriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = caseDir
	cmd.Stdin = strings.NewReader(stdout)
	cmd.Env = append(os.Environ(), "CPTA_STDOUT="+stdoutPath, "CPTA_STDERR="+stderrPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err = cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.New("evaluator script timed out")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return errors.New(msg)
		}
		return fmt.Errorf("evaluator script exited with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("failed to run evaluator script: %w", err)
}
