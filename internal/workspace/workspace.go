// Package workspace describes one submission's staged artifacts on disk.
//
// A workspace directory holds one subdirectory per completed stage:
//
//	0-raw/                         extracted submission
//	1-build/                       snapshot of the sandbox after make
//	2-output/<case>/stdout.log     captured output per case
//	2-output/<case>/stderr.log
//	3-result/result.json           ordered verdicts
//
// The stage of a workspace is never stored; it is derived from which of
// these artifacts exist.
package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Stage is a workspace's furthest-completed pipeline phase.
type Stage int

const (
	StageNone Stage = iota
	StageRaw
	StageBuild
	StageOutput
	StageResult
)

var stageDirs = [...]string{
	StageRaw:    "0-raw",
	StageBuild:  "1-build",
	StageOutput: "2-output",
	StageResult: "3-result",
}

var stageNames = [...]string{
	StageNone:   "none",
	StageRaw:    "raw",
	StageBuild:  "build",
	StageOutput: "output",
	StageResult: "result",
}

func (s Stage) String() string {
	if s < StageNone || s > StageResult {
		return "unknown"
	}
	return stageNames[s]
}

// Dir returns the artifact directory name for s, or "" for StageNone.
func (s Stage) Dir() string {
	if s <= StageNone || s > StageResult {
		return ""
	}
	return stageDirs[s]
}

const (
	StdoutLog  = "stdout.log"
	StderrLog  = "stderr.log"
	ResultJSON = "result.json"
)

// Workspace is one submission identified by its directory name.
type Workspace struct {
	Name string
	Dir  string
}

// New returns the workspace called name under root.
func New(root, name string) Workspace {
	return Workspace{Name: name, Dir: filepath.Join(root, name)}
}

// Stage returns the highest stage whose artifact is present. It reads the
// filesystem on every call.
func (w Workspace) Stage() Stage {
	return StageOf(w.Dir)
}

// StageOf derives the stage of the workspace at dir.
func StageOf(dir string) Stage {
	for s := StageResult; s > StageNone; s-- {
		if exists(filepath.Join(dir, s.Dir())) {
			return s
		}
	}
	return StageNone
}

// Path returns the artifact directory for stage s.
func (w Workspace) Path(s Stage) string {
	return filepath.Join(w.Dir, s.Dir())
}

func (w Workspace) RawDir() string    { return w.Path(StageRaw) }
func (w Workspace) BuildDir() string  { return w.Path(StageBuild) }
func (w Workspace) OutputDir() string { return w.Path(StageOutput) }
func (w Workspace) ResultDir() string { return w.Path(StageResult) }

// CaseOutputDir returns the output directory of one case.
func (w Workspace) CaseOutputDir(caseID string) string {
	return filepath.Join(w.OutputDir(), caseID)
}

// HasOutput reports whether the case has an Output artifact.
func (w Workspace) HasOutput(caseID string) bool {
	return exists(w.CaseOutputDir(caseID))
}

// ResultFile returns the path of the result record.
func (w Workspace) ResultFile() string {
	return filepath.Join(w.ResultDir(), ResultJSON)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist) && err == nil
}
