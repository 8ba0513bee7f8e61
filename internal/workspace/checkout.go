package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFile lists workspace names to skip, in .gitignore syntax.
const IgnoreFile = ".cptaignore"

// ErrNoSuchDirectory is returned when the root to enumerate is missing.
var ErrNoSuchDirectory = errors.New("no such directory")

// Selector narrows which workspaces are enumerated. The zero value selects
// everything.
type Selector struct {
	// Pattern, if set, must match the workspace name.
	Pattern *regexp.Regexp
	// Names, if non-empty, lists the only workspaces to include.
	Names mapset.Set[string]
}

func (s Selector) match(name string) bool {
	if s.Pattern != nil && !s.Pattern.MatchString(name) {
		return false
	}
	if s.Names != nil && s.Names.Cardinality() > 0 && !s.Names.Contains(name) {
		return false
	}
	return true
}

// Checkout enumerates the workspaces under root sorted by name. Entries
// starting with "." or "_" and names matched by root/.cptaignore are skipped.
func Checkout(root string, sel Selector) ([]Workspace, error) {
	names, err := ListDirs(root, sel.match)
	if err != nil {
		return nil, err
	}

	ignore, err := loadIgnore(filepath.Join(root, IgnoreFile))
	if err != nil {
		return nil, err
	}

	workspaces := make([]Workspace, 0, len(names))
	for _, name := range names {
		if ignore != nil && ignore.MatchesPath(name+"/") {
			continue
		}
		workspaces = append(workspaces, New(root, name))
	}
	return workspaces, nil
}

// ListDirs returns the names of the visible subdirectories of root accepted
// by keep, sorted by name. A nil keep accepts every directory.
func ListDirs(root string, keep func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchDirectory, root)
		}
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		if keep != nil && !keep(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func loadIgnore(path string) (*gitignore.GitIgnore, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return gitignore.CompileIgnoreLines(lines...), nil
}
