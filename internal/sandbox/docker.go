package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// keepAlive holds the container open while commands are exec'd into it.
var keepAlive = []string{"/bin/bash", "-c", "while true; do sleep 10; done"}

// DockerProvisioner creates sandboxes as Docker containers.
type DockerProvisioner struct {
	client *client.Client
	config Config
	limits limits
	logger zerolog.Logger
}

// NewDockerProvisioner connects to the local Docker daemon.
func NewDockerProvisioner(ctx context.Context, cfg Config, logger zerolog.Logger) (*DockerProvisioner, error) {
	l, err := cfg.limits()
	if err != nil {
		return nil, err
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	// Verify Docker daemon is accessible
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	return &DockerProvisioner{
		client: cli,
		config: cfg,
		limits: l,
		logger: logger.With().Str("sandbox", "docker").Logger(),
	}, nil
}

// Close releases the connection to the daemon.
func (p *DockerProvisioner) Close() error {
	return p.client.Close()
}

// Create launches a container and extracts every restore path into WorkDir.
func (p *DockerProvisioner) Create(ctx context.Context, spec Spec) (Sandbox, error) {
	if err := checkRestores(spec.Restores); err != nil {
		return nil, err
	}

	img := resolveImage(spec, p.config)
	if err := p.ensureImage(ctx, img); err != nil {
		return nil, err
	}

	staged, err := stageRestores(spec.Restores)
	if err != nil {
		return nil, err
	}

	mounts := make([]mount.Mount, len(staged.files))
	for i, f := range staged.files {
		mounts[i] = mount.Mount{
			Type:     mount.TypeBind,
			Source:   f,
			Target:   path.Join(restoreDir, fmt.Sprintf("%d.tar", i)),
			ReadOnly: true,
		}
	}

	stopTimeout := p.config.StopTimeout
	tmpfsOpts := fmt.Sprintf("rw,exec,nodev,nosuid,size=%d", p.limits.tmpfs)
	containerConfig := &container.Config{
		Image:           img,
		Cmd:             keepAlive,
		Hostname:        "cp",
		WorkingDir:      WorkDir,
		Env:             spec.Env,
		NetworkDisabled: true,
		StopTimeout:     &stopTimeout,
	}
	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		AutoRemove:     true,
		Mounts:         mounts,
		Tmpfs: map[string]string{
			WorkDir: tmpfsOpts,
			"/tmp":  tmpfsOpts,
		},
		Resources: container.Resources{
			CPUPeriod:  p.config.CPUPeriod,
			CPUQuota:   p.config.CPUQuota,
			Memory:     p.limits.memory,
			MemorySwap: p.limits.memory,
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 1024, Hard: 1024},
			},
		},
		SecurityOpt: []string{"no-new-privileges"},
	}

	name := "cpta-" + uuid.NewString()
	created, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		staged.cleanup()
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	sb := &dockerSandbox{
		client:    p.client,
		id:        created.ID,
		staged:    staged,
		maxOutput: p.limits.maxOutput,
		logger:    p.logger.With().Str("container", shortID(created.ID)).Logger(),
	}

	if err := p.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		sb.Destroy(context.Background())
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	for i := range staged.files {
		archivePath := path.Join(restoreDir, fmt.Sprintf("%d.tar", i))
		var stderr bytes.Buffer
		code, err := sb.stream(ctx, []string{"tar", "xf", archivePath, "-C", WorkDir}, nil, io.Discard, &stderr)
		if err == nil && code != 0 {
			err = fmt.Errorf("tar exited with code %d: %s", code, strings.TrimSpace(stderr.String()))
		}
		if err != nil {
			sb.Destroy(context.Background())
			return nil, fmt.Errorf("failed to restore %s: %w", spec.Restores[i], err)
		}
	}

	sb.logger.Debug().Int("restores", len(staged.files)).Str("image", img).Msg("sandbox ready")
	return sb, nil
}

type dockerSandbox struct {
	client    *client.Client
	id        string
	staged    *stagedRestores
	maxOutput int64
	logger    zerolog.Logger

	destroyOnce sync.Once
	destroyErr  error
}

func (s *dockerSandbox) ID() string {
	return s.id
}

func (s *dockerSandbox) Exec(ctx context.Context, cmd []string, stdin io.Reader) (*Process, error) {
	execID, hijacked, err := s.attach(ctx, cmd, stdin != nil)
	if err != nil {
		return nil, err
	}
	if stdin != nil {
		go func() {
			_, _ = io.Copy(hijacked.Conn, stdin)
			_ = hijacked.CloseWrite()
		}()
	}

	s.logger.Debug().Strs("cmd", cmd).Msg("exec started")
	return StartProcess(s.maxOutput, func(stdout, stderr io.Writer) (int, error) {
		defer hijacked.Close()
		if _, err := stdcopy.StdCopy(stdout, stderr, hijacked.Reader); err != nil {
			return -1, err
		}
		return s.exitCode(execID)
	}), nil
}

// stream runs cmd to completion, writing its output to the given writers
// without any cap.
func (s *dockerSandbox) stream(ctx context.Context, cmd []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	execID, hijacked, err := s.attach(ctx, cmd, stdin != nil)
	if err != nil {
		return -1, err
	}
	defer hijacked.Close()

	if stdin != nil {
		go func() {
			_, _ = io.Copy(hijacked.Conn, stdin)
			_ = hijacked.CloseWrite()
		}()
	}

	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, hijacked.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return -1, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-ctx.Done():
		return -1, ctx.Err()
	}
	return s.exitCode(execID)
}

func (s *dockerSandbox) attach(ctx context.Context, cmd []string, withStdin bool) (string, types.HijackedResponse, error) {
	created, err := s.client.ContainerExecCreate(ctx, s.id, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   WorkDir,
		AttachStdin:  withStdin,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", types.HijackedResponse{}, fmt.Errorf("failed to create exec: %w", err)
	}

	resp, err := s.client.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return "", types.HijackedResponse{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	return created.ID, resp, nil
}

// exitCode waits for the daemon to mark the exec finished. The output stream
// can close slightly before the daemon records the exit code.
func (s *dockerSandbox) exitCode(execID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		inspect, err := s.client.ContainerExecInspect(ctx, execID)
		if err != nil {
			return -1, fmt.Errorf("failed to inspect exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, fmt.Errorf("exec %s still running after its output closed", shortID(execID))
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (s *dockerSandbox) Store(ctx context.Context, dest string, unpacked bool) error {
	cmd := []string{"tar", "-C", WorkDir, "-cf", "-", "."}

	snapshot := func(w io.Writer) error {
		var stderr bytes.Buffer
		code, err := s.stream(ctx, cmd, nil, w, &stderr)
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("tar exited with code %d: %s", code, strings.TrimSpace(stderr.String()))
		}
		return nil
	}

	if !unpacked {
		if err := writeArchive(dest, snapshot); err != nil {
			return fmt.Errorf("failed to store snapshot: %w", err)
		}
		return nil
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(snapshot(pw))
	}()
	err := expandInto(pr, dest)
	pr.CloseWithError(io.ErrClosedPipe)
	return err
}

func (s *dockerSandbox) Copy(ctx context.Context, src, dest string) error {
	if err := checkRestores([]string{src}); err != nil {
		return err
	}
	rc, err := packPath(src)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", src, err)
	}
	defer rc.Close()

	if !path.IsAbs(dest) {
		dest = path.Join(WorkDir, dest)
	}
	// The root filesystem is read-only, so the archive goes in through tar.
	var stderr bytes.Buffer
	cmd := []string{"/bin/sh", "-c", `mkdir -p "$1" && tar xf - -C "$1"`, "sh", dest}
	code, err := s.stream(ctx, cmd, rc, io.Discard, &stderr)
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if code != 0 {
		return fmt.Errorf("failed to copy %s: tar exited with code %d: %s", src, code, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (s *dockerSandbox) Destroy(ctx context.Context) error {
	s.destroyOnce.Do(func() {
		killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		err := s.client.ContainerKill(killCtx, s.id, "SIGKILL")
		if err != nil && !client.IsErrNotFound(err) {
			// Not running yet (or already stopping); remove it outright.
			err = s.client.ContainerRemove(killCtx, s.id, container.RemoveOptions{Force: true})
			if err != nil && !client.IsErrNotFound(err) {
				s.destroyErr = fmt.Errorf("failed to destroy container %s: %w", shortID(s.id), err)
			}
		}
		if cerr := s.staged.cleanup(); cerr != nil && s.destroyErr == nil {
			s.destroyErr = fmt.Errorf("failed to remove staged restores: %w", cerr)
		}
		s.logger.Debug().Msg("sandbox destroyed")
	})
	return s.destroyErr
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
