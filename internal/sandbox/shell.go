package sandbox

import (
	"context"
	"os/exec"
)

// Shell is implemented by sandboxes that an operator can open an
// interactive shell in. The returned command is run on the host with the
// operator's terminal attached.
type Shell interface {
	ShellCommand(ctx context.Context) *exec.Cmd
}

func (s *dockerSandbox) ShellCommand(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, "docker", "exec", "-it", "-w", WorkDir, s.id, "/bin/bash")
}
