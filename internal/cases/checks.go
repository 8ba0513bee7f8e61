package cases

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// check is one declarative condition over captured output.
type check func(stdout, stderr string) error

// Checks combines declarative conditions into a Function evaluator. Every
// condition must hold; the first violation is the failure detail.
func Checks(caseDir string, specs []map[string]string) (Function, error) {
	var all []check
	for i, spec := range specs {
		for kind, arg := range spec {
			c, err := newCheck(caseDir, kind, arg)
			if err != nil {
				return Function{}, fmt.Errorf("check %d: %w", i+1, err)
			}
			all = append(all, c)
		}
	}
	return Function{Check: func(stdout, stderr string) error {
		for _, c := range all {
			if err := c(stdout, stderr); err != nil {
				return err
			}
		}
		return nil
	}}, nil
}

func newCheck(caseDir, kind, arg string) (check, error) {
	switch kind {
	case "stdout_contains":
		return contains("stdout", arg, true, pickStdout), nil
	case "stdout_not_contains":
		return contains("stdout", arg, false, pickStdout), nil
	case "stderr_contains":
		return contains("stderr", arg, true, pickStderr), nil
	case "stderr_not_contains":
		return contains("stderr", arg, false, pickStderr), nil
	case "stdout_matches":
		return matches("stdout", arg, pickStdout)
	case "stderr_matches":
		return matches("stderr", arg, pickStderr)
	case "stdout_equals":
		return equals(arg), nil
	case "stdout_equals_file":
		data, err := os.ReadFile(filepath.Join(caseDir, arg))
		if err != nil {
			return nil, fmt.Errorf("failed to read expected output: %w", err)
		}
		return equals(string(data)), nil
	default:
		return nil, fmt.Errorf("unknown check %q", kind)
	}
}

func pickStdout(stdout, _ string) string { return stdout }
func pickStderr(_, stderr string) string { return stderr }

func contains(stream, needle string, want bool, pick func(string, string) string) check {
	return func(stdout, stderr string) error {
		if strings.Contains(pick(stdout, stderr), needle) == want {
			return nil
		}
		if want {
			return fmt.Errorf("%s does not contain %q", stream, needle)
		}
		return fmt.Errorf("%s contains %q", stream, needle)
	}
}

func matches(stream, pattern string, pick func(string, string) string) (check, error) {
	re, err := regexp.Compile("(?m)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return func(stdout, stderr string) error {
		if re.MatchString(pick(stdout, stderr)) {
			return nil
		}
		return fmt.Errorf("%s does not match %q", stream, pattern)
	}, nil
}

// equals compares stdout to want, ignoring trailing whitespace on each line
// and at the end of the output.
func equals(want string) check {
	want = normalize(want)
	return func(stdout, _ string) error {
		got := normalize(stdout)
		if got == want {
			return nil
		}
		gotLines, wantLines := strings.Split(got, "\n"), strings.Split(want, "\n")
		for i := 0; i < len(gotLines) && i < len(wantLines); i++ {
			if gotLines[i] != wantLines[i] {
				return fmt.Errorf("stdout differs at line %d: expected %q, got %q", i+1, wantLines[i], gotLines[i])
			}
		}
		return fmt.Errorf("stdout has %d lines, expected %d", len(gotLines), len(wantLines))
	}
}

func normalize(s string) string {
	lines := strings.Split(strings.TrimRight(s, " \t\r\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return strings.Join(lines, "\n")
}
