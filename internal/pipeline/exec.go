package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JacobLinCool/cpta/internal/cases"
	"github.com/JacobLinCool/cpta/internal/sandbox"
	"github.com/JacobLinCool/cpta/internal/workspace"
)

// Exec runs one case against the workspace's build artifact and records the
// accumulated stdout and stderr under the case's output directory. A case
// that already has output is left alone unless force is set.
//
// Step failures, timeouts and non-zero exits are recorded in the logs, not
// returned. Errors are reserved for the pipeline itself: a missing stage,
// an unusable sandbox or output beyond the capture limit. In those cases
// no output is left behind for the case.
func (p *Pipeline) Exec(ctx context.Context, ws workspace.Workspace, c *cases.Case, force bool) (err error) {
	stage := ws.Stage()
	if stage < workspace.StageBuild {
		return &StageError{Op: "exec", Workspace: ws.Name, Have: stage, Need: workspace.StageBuild}
	}
	outDir := ws.CaseOutputDir(c.ID)
	if ws.HasOutput(c.ID) && !force {
		p.logger.Debug().Str("workspace", ws.Name).Str("case", c.ID).Msg("output exists, skipping exec")
		return nil
	}

	restores := []string{ws.BuildDir()}
	if c.MountDir != "" {
		restores = append(restores, c.MountDir)
	}
	sb, err := p.provisioner.Create(ctx, sandbox.Spec{Image: p.image, Restores: restores})
	if err != nil {
		return fmt.Errorf("exec %s/%s: %w", ws.Name, c.ID, err)
	}
	defer p.destroy(ctx, sb)

	if err := os.RemoveAll(outDir); err != nil {
		return fmt.Errorf("failed to clear output dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(outDir)
		}
	}()

	log := p.logger.With().Str("workspace", ws.Name).Str("case", c.ID).Str("sandbox", sb.ID()).Logger()
	log.Info().Int("steps", len(c.Steps)).Msg("executing case")

	var stdout, stderr strings.Builder
	for i, step := range c.Steps {
		switch s := step.(type) {
		case cases.Command:
			res, err := p.run(ctx, sb, s.Args, s.Stdin, p.stepTimeout)
			if err != nil {
				return fmt.Errorf("exec %s/%s step %d: %w", ws.Name, c.ID, i+1, err)
			}
			if res.timedOut {
				log.Warn().Int("step", i+1).Dur("timeout", p.stepTimeout).Msg("step timed out")
				stderr.WriteString(TimeoutMessage + "\n")
				continue
			}
			stdout.WriteString(res.stdout + "\n")
			if res.code != 0 {
				fmt.Fprintf(&stderr, "Received non-zero exit code: %d\n", res.code)
			}
			stderr.WriteString(res.stderr + "\n")

		case cases.Extension:
			if err := s.Action.Exec(ctx, ws.BuildDir(), outDir); err != nil {
				log.Warn().Err(err).Str("extension", s.Name).Msg("extension failed")
				fmt.Fprintf(&stderr, "Extension %s failed: %s\n", s.Name, err)
			}

		default:
			return fmt.Errorf("exec %s/%s: unsupported step %T", ws.Name, c.ID, step)
		}
	}

	if err := os.WriteFile(filepath.Join(outDir, workspace.StdoutLog), []byte(stdout.String()), 0644); err != nil {
		return fmt.Errorf("failed to write stdout log: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, workspace.StderrLog), []byte(stderr.String()), 0644); err != nil {
		return fmt.Errorf("failed to write stderr log: %w", err)
	}
	return nil
}
