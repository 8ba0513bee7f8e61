package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JacobLinCool/cpta/internal/buildconfig"
	"github.com/JacobLinCool/cpta/internal/cases"
	"github.com/JacobLinCool/cpta/internal/sandbox"
	"github.com/JacobLinCool/cpta/internal/workspace"
)

var (
	diveStageFlag string
	diveCaseFlag  string
)

var diveCmd = &cobra.Command{
	Use:   "dive <workspace>",
	Short: "Open a shell in a sandbox restored from a workspace",
	Long: `Open an interactive shell in a fresh sandbox holding a workspace's raw
submission (--stage raw, with the build config mounted as for make) or its
build snapshot (--stage build, the default). With --case, the case's mount
directory is restored on top of the build as exec does. The sandbox is
destroyed when the shell exits; nothing is written back.`,
	Args: cobra.ExactArgs(1),
	RunE: runDive,
}

func init() {
	rootCmd.AddCommand(diveCmd)
	diveCmd.Flags().StringVar(&diveStageFlag, "stage", "build", "Stage to restore (raw, build)")
	diveCmd.Flags().StringVar(&diveCaseFlag, "case", "", "Also restore this case's mount directory")
}

// diveSpec is the sandbox a dive into ws at stage opens.
func diveSpec(ws workspace.Workspace, stage string, build *buildconfig.Config, caseMount string) (sandbox.Spec, error) {
	var spec sandbox.Spec
	switch stage {
	case "raw":
		if ws.Stage() < workspace.StageRaw {
			return spec, fmt.Errorf("workspace %s has no raw submission", ws.Name)
		}
		spec.Restores = append(build.Restores(), ws.RawDir())
		if build != nil {
			spec.Env = build.Env
			spec.Image = build.Image
		}
	case "build":
		if ws.Stage() < workspace.StageBuild {
			return spec, fmt.Errorf("workspace %s is not built yet, run make first", ws.Name)
		}
		spec.Restores = []string{ws.BuildDir()}
	default:
		return spec, fmt.Errorf("unknown stage %q (supported: raw, build)", stage)
	}
	if caseMount != "" {
		spec.Restores = append(spec.Restores, caseMount)
	}
	return spec, nil
}

func runDive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := prepareRuntimeEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer env.Close()

	ws := workspace.New(env.cfg.Root, args[0])

	var build *buildconfig.Config
	if diveStageFlag == "raw" {
		if build, err = buildconfig.Load(env.cfg.Build); err != nil {
			env.logger.Warn().Err(err).Msg("no build config, restoring the submission alone")
		}
	}

	var mount string
	if diveCaseFlag != "" {
		loader := &cases.Loader{Registry: env.registry}
		c, err := loader.Load(filepath.Join(env.cfg.Cases, diveCaseFlag))
		if err != nil {
			return err
		}
		mount = c.MountDir
	}

	spec, err := diveSpec(ws, diveStageFlag, build, mount)
	if err != nil {
		return err
	}

	sb, err := env.provisioner.Create(ctx, spec)
	if err != nil {
		return err
	}
	defer sb.Destroy(context.WithoutCancel(ctx))

	sh, ok := sb.(sandbox.Shell)
	if !ok {
		return errors.New("this sandbox does not support interactive shells")
	}
	env.logger.Info().Str("workspace", ws.Name).Str("sandbox", sb.ID()).Msg("entering sandbox, exit the shell to destroy it")

	c := sh.ShellCommand(ctx)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("shell: %w", err)
	}
	return nil
}
