//go:build !windows
// +build !windows

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/moby/go-archive"
	"github.com/rs/zerolog"
)

// HostProvisioner runs sandboxes as temporary directories on the host.
// It provides no isolation and no resource limits. It should only be used
// when Docker is unavailable or explicitly requested.
type HostProvisioner struct {
	config Config
	limits limits
	logger zerolog.Logger
}

// NewHostProvisioner creates a host provisioner.
func NewHostProvisioner(cfg Config, logger zerolog.Logger) (*HostProvisioner, error) {
	l, err := cfg.limits()
	if err != nil {
		return nil, err
	}
	return &HostProvisioner{
		config: cfg,
		limits: l,
		logger: logger.With().Str("sandbox", "host").Logger(),
	}, nil
}

func (p *HostProvisioner) Create(ctx context.Context, spec Spec) (Sandbox, error) {
	if err := checkRestores(spec.Restores); err != nil {
		return nil, err
	}

	root, err := os.MkdirTemp("", "cpta-host-")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox dir: %w", err)
	}
	work := filepath.Join(root, "workspace")
	if err := os.Mkdir(work, 0755); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("failed to create sandbox dir: %w", err)
	}

	for _, r := range spec.Restores {
		if err := restoreInto(r, work); err != nil {
			os.RemoveAll(root)
			return nil, fmt.Errorf("failed to restore %s: %w", r, err)
		}
	}

	id := "host-" + uuid.NewString()
	p.logger.Debug().Str("id", id).Int("restores", len(spec.Restores)).Msg("sandbox ready")
	return &hostSandbox{
		id:        id,
		root:      root,
		work:      work,
		env:       append(os.Environ(), spec.Env...),
		maxOutput: p.limits.maxOutput,
		logger:    p.logger,
	}, nil
}

func restoreInto(src, dest string) error {
	rc, err := openRestore(src)
	if err != nil {
		return err
	}
	defer rc.Close()
	return archive.Untar(rc, dest, &archive.TarOptions{NoLchown: true})
}

type hostSandbox struct {
	id        string
	root      string
	work      string
	env       []string
	maxOutput int64
	logger    zerolog.Logger

	mu        sync.Mutex
	pgids     []int
	destroyed bool
}

func (s *hostSandbox) ID() string {
	return s.id
}

func (s *hostSandbox) Exec(ctx context.Context, cmd []string, stdin io.Reader) (*Process, error) {
	if len(cmd) == 0 {
		return nil, errors.New("empty command")
	}

	c := exec.Command(cmd[0], cmd[1:]...)
	c.Dir = s.work
	c.Env = s.env
	c.Stdin = stdin
	// Create a new process group so Destroy can kill all child processes
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := c.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := c.StderrPipe()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, errors.New("sandbox destroyed")
	}
	if err := c.Start(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	pgid := c.Process.Pid
	s.pgids = append(s.pgids, pgid)
	s.mu.Unlock()

	return StartProcess(s.maxOutput, func(stdout, stderr io.Writer) (int, error) {
		var wg sync.WaitGroup
		var outErr, errErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, outErr = io.Copy(stdout, stdoutPipe); outErr != nil {
				syscall.Kill(-pgid, syscall.SIGKILL)
			}
		}()
		go func() {
			defer wg.Done()
			if _, errErr = io.Copy(stderr, stderrPipe); errErr != nil {
				syscall.Kill(-pgid, syscall.SIGKILL)
			}
		}()
		wg.Wait()

		waitErr := c.Wait()
		if err := errors.Join(outErr, errErr); err != nil {
			return -1, err
		}
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				return exitErr.ExitCode(), nil
			}
			return -1, waitErr
		}
		return 0, nil
	}), nil
}

func (s *hostSandbox) Store(ctx context.Context, dest string, unpacked bool) error {
	rc, err := archive.TarWithOptions(s.work, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to snapshot workspace: %w", err)
	}
	defer rc.Close()

	if unpacked {
		return expandInto(rc, dest)
	}
	return writeArchive(dest, func(w io.Writer) error {
		_, err := io.Copy(w, rc)
		return err
	})
}

func (s *hostSandbox) Copy(ctx context.Context, src, dest string) error {
	if err := checkRestores([]string{src}); err != nil {
		return err
	}
	target := filepath.Join(s.work, filepath.FromSlash(dest))
	if filepath.IsAbs(dest) {
		rel, err := filepath.Rel(WorkDir, dest)
		if err != nil {
			return fmt.Errorf("invalid destination %s: %w", dest, err)
		}
		target = filepath.Join(s.work, rel)
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	rc, err := packPath(src)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", src, err)
	}
	defer rc.Close()
	return archive.Untar(rc, target, &archive.TarOptions{NoLchown: true})
}

func (s *hostSandbox) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	s.destroyed = true

	for _, pgid := range s.pgids {
		// Kill the entire process group (negative PID)
		syscall.Kill(-pgid, syscall.SIGKILL)
	}
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("failed to remove sandbox dir: %w", err)
	}
	s.logger.Debug().Str("id", s.id).Msg("sandbox destroyed")
	return nil
}

func (s *hostSandbox) ShellCommand(ctx context.Context) *exec.Cmd {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	c := exec.CommandContext(ctx, shell)
	c.Dir = s.work
	c.Env = s.env
	return c
}
