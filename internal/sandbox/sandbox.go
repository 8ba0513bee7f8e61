// Package sandbox manages ephemeral, resource-capped execution contexts.
//
// A Sandbox is created from an ordered list of restore paths, runs any
// number of commands, can be snapshotted back to the host, and is destroyed
// by the operation that created it. Sandboxes are never shared.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

const (
	// WorkDir is the working directory inside every sandbox.
	WorkDir = "/workspace"
	// DefaultImage is used when neither the spec nor the config names one.
	DefaultImage = "buildpack-deps:stable"
)

// Spec describes a sandbox to create.
type Spec struct {
	// Image overrides the provisioner's configured image.
	Image string
	// Restores are host directories or archives (.tar, .tar.zst) extracted
	// into WorkDir in order. Later entries overwrite earlier ones.
	Restores []string
	// Env holds KEY=VALUE pairs visible to every command.
	Env []string
}

// Provisioner creates sandboxes.
type Provisioner interface {
	Create(ctx context.Context, spec Spec) (Sandbox, error)
}

// Sandbox is one running isolated context.
type Sandbox interface {
	// ID returns the engine-assigned identity.
	ID() string
	// Exec starts cmd and returns immediately. No timeout is applied; callers
	// bound the wait through Process.Wait.
	Exec(ctx context.Context, cmd []string, stdin io.Reader) (*Process, error)
	// Store archives the whole working directory to dest. With unpacked set,
	// dest is replaced by a directory holding the snapshot; otherwise a
	// single archive file is written.
	Store(ctx context.Context, dest string, unpacked bool) error
	// Copy uploads a host file or directory into dest inside the sandbox.
	// Directories contribute their contents; files are placed inside dest.
	Copy(ctx context.Context, src, dest string) error
	// Destroy force-terminates the sandbox. Calling it more than once is safe.
	Destroy(ctx context.Context) error
}

// CreationError reports a restore path that does not exist.
type CreationError struct {
	Path string
	Err  error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("restore path %s does not exist", e.Path)
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

// checkRestores fails with a CreationError for the first missing path.
func checkRestores(paths []string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return &CreationError{Path: p, Err: err}
			}
			return fmt.Errorf("failed to stat restore path %s: %w", p, err)
		}
	}
	return nil
}
