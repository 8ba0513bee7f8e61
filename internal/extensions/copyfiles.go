package extensions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/JacobLinCool/cpta/internal/cases"
)

// CopyFilesName is the manifest name of the copy-files extension.
const CopyFilesName = "copy-files"

// CopyFiles copies build files matching gitignore-style patterns into the
// case's output directory, keeping their relative paths under Dest.
type CopyFiles struct {
	Patterns []string
	Dest     string
	matcher  *gitignore.GitIgnore
}

type copyFilesOptions struct {
	Patterns []string `yaml:"patterns"`
	Dest     string   `yaml:"dest"`
}

func newCopyFiles(_ string, with map[string]any) (cases.Action, error) {
	var opts copyFilesOptions
	if err := decodeWith(with, &opts); err != nil {
		return nil, err
	}
	return NewCopyFiles(opts.Patterns, opts.Dest)
}

// NewCopyFiles creates the action. Dest defaults to "files".
func NewCopyFiles(patterns []string, dest string) (*CopyFiles, error) {
	if len(patterns) == 0 {
		return nil, errors.New("copy-files needs at least one pattern")
	}
	if dest == "" {
		dest = "files"
	}
	if !filepath.IsLocal(dest) {
		return nil, fmt.Errorf("copy-files dest %q must stay inside the output directory", dest)
	}
	return &CopyFiles{
		Patterns: patterns,
		Dest:     dest,
		matcher:  gitignore.CompileIgnoreLines(patterns...),
	}, nil
}

func (c *CopyFiles) Exec(ctx context.Context, inputDir, outputDir string) error {
	copied := 0
	err := filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return err
		}
		if !c.matcher.MatchesPath(filepath.ToSlash(rel)) {
			return nil
		}
		copied++
		return copyFile(path, filepath.Join(outputDir, c.Dest, rel))
	})
	if err != nil {
		return err
	}
	if copied == 0 {
		return fmt.Errorf("no files match %v", c.Patterns)
	}
	return nil
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
