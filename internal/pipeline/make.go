package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/JacobLinCool/cpta/internal/buildconfig"
	"github.com/JacobLinCool/cpta/internal/sandbox"
	"github.com/JacobLinCool/cpta/internal/workspace"
)

// Make builds the workspace's raw submission and snapshots the result into
// its build directory. A workspace already at Build or later is left alone
// unless force is set. cfg may be nil.
//
// The snapshot is taken whether or not the build succeeded, so a failed
// build still advances the workspace to Build and the returned error
// carries the diagnostic.
func (p *Pipeline) Make(ctx context.Context, ws workspace.Workspace, cfg *buildconfig.Config, force bool) error {
	stage := ws.Stage()
	if stage < workspace.StageRaw {
		return &StageError{Op: "make", Workspace: ws.Name, Have: stage, Need: workspace.StageRaw}
	}
	if stage >= workspace.StageBuild && !force {
		p.logger.Debug().Str("workspace", ws.Name).Msg("already built, skipping make")
		return nil
	}

	spec := sandbox.Spec{
		Image:    p.image,
		Restores: append(cfg.Restores(), ws.RawDir()),
	}
	command := p.buildCommand
	timeout := p.stepTimeout
	if cfg != nil {
		spec.Env = cfg.Env
		if cfg.Image != "" {
			spec.Image = cfg.Image
		}
		if len(cfg.Command) > 0 {
			command = cfg.Command
		}
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
	}

	sb, err := p.provisioner.Create(ctx, spec)
	if err != nil {
		return fmt.Errorf("make %s: %w", ws.Name, err)
	}
	defer p.destroy(ctx, sb)

	log := p.logger.With().Str("workspace", ws.Name).Str("sandbox", sb.ID()).Logger()
	log.Info().Strs("command", command).Msg("building")

	start := time.Now()
	buildErr := p.build(ctx, sb, ws, command, timeout)
	if buildErr != nil {
		log.Warn().Err(buildErr).Dur("elapsed", time.Since(start)).Msg("build failed")
	} else {
		log.Info().Dur("elapsed", time.Since(start)).Msg("build succeeded")
	}

	if err := os.RemoveAll(ws.BuildDir()); err != nil {
		return errors.Join(buildErr, fmt.Errorf("failed to clear build dir: %w", err))
	}
	if err := sb.Store(ctx, ws.BuildDir(), true); err != nil {
		return errors.Join(buildErr, fmt.Errorf("failed to snapshot build: %w", err))
	}
	return buildErr
}

func (p *Pipeline) build(ctx context.Context, sb sandbox.Sandbox, ws workspace.Workspace, command []string, timeout time.Duration) error {
	res, err := p.run(ctx, sb, command, "", timeout)
	if err != nil {
		return fmt.Errorf("build %s: %w", ws.Name, err)
	}
	if res.timedOut {
		return &TimeoutError{Workspace: ws.Name, Op: "make", After: timeout}
	}
	if res.code != 0 {
		return &BuildError{Workspace: ws.Name, Code: res.code, Stderr: res.stderr}
	}
	return nil
}
