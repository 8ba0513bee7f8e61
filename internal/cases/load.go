package cases

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/JacobLinCool/cpta/internal/workspace"
)

const (
	// ManifestFile is the case description inside a case directory.
	ManifestFile = "case.yaml"
	// MountDirName is the optional directory restored into the sandbox.
	MountDirName = "mount"
)

// Loader turns case directories into Cases.
type Loader struct {
	// Registry resolves extension steps. A nil registry rejects them.
	Registry *Registry
}

// Load reads the case in dir. The case ID is the directory's base name.
func (l *Loader) Load(dir string) (*Case, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case %s: %w", dir, err)
	}

	m, err := parseManifest(path, data)
	if err != nil {
		return nil, err
	}

	c := &Case{ID: filepath.Base(dir), Dir: dir}
	for i, s := range m.Steps {
		step, err := l.step(dir, s)
		if err != nil {
			return nil, fmt.Errorf("case %s step %d: %w", c.ID, i+1, err)
		}
		c.Steps = append(c.Steps, step)
	}

	if c.Evaluator, err = evaluator(dir, m.Eval); err != nil {
		return nil, fmt.Errorf("case %s: %w", c.ID, err)
	}

	mount := filepath.Join(dir, MountDirName)
	if info, err := os.Stat(mount); err == nil && info.IsDir() {
		c.MountDir = mount
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("case %s: %w", c.ID, err)
	}
	return c, nil
}

// LoadAll loads every case directory under root, sorted by name. Hidden and
// underscore-prefixed directories are skipped, as are names not matching
// pattern when it is set.
func (l *Loader) LoadAll(root string, pattern *regexp.Regexp) ([]*Case, error) {
	names, err := workspace.ListDirs(root, func(name string) bool {
		return pattern == nil || pattern.MatchString(name)
	})
	if err != nil {
		return nil, err
	}

	loaded := make([]*Case, 0, len(names))
	for _, name := range names {
		c, err := l.Load(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, c)
	}
	return loaded, nil
}

func (l *Loader) step(dir string, s stepSpec) (Step, error) {
	if s.Extension == "" {
		return Command{Args: s.Run, Stdin: s.Stdin}, nil
	}
	if l.Registry == nil {
		return nil, fmt.Errorf("extension %q used but no extensions are registered", s.Extension)
	}
	action, err := l.Registry.Resolve(s.Extension, dir, s.With)
	if err != nil {
		return nil, err
	}
	return Extension{Name: s.Extension, Action: action}, nil
}

func evaluator(dir string, e evalSpec) (Evaluator, error) {
	switch {
	case e.Interactive:
		return Interactive{}, nil
	case len(e.Checks) > 0:
		return Checks(dir, e.Checks)
	case len(e.Script) > 0:
		return Script(dir, e.Script)
	default:
		return nil, errors.New("no evaluator")
	}
}
