package extensions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JacobLinCool/cpta/internal/cases"
	"github.com/JacobLinCool/cpta/internal/providers"
)

type fakeCompleter struct {
	answer string
	err    error
	system string
	prompt string
}

func (f *fakeCompleter) Model() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	return f.answer, f.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func registry(t *testing.T, c providers.Completer) *cases.Registry {
	t.Helper()
	reg := cases.NewRegistry()
	require.NoError(t, Register(reg, Deps{Completer: func() (providers.Completer, error) {
		if c == nil {
			return nil, errors.New("OPENAI_API_KEY not set")
		}
		return c, nil
	}}))
	return reg
}

func TestCopyFiles(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(in, "main.c"), "int main(){}")
	writeFile(t, filepath.Join(in, "lib", "util.c"), "void f(){}")
	writeFile(t, filepath.Join(in, "lib", "util.o"), "\x7fELF")
	writeFile(t, filepath.Join(in, "build", "gen.c"), "")

	action, err := registry(t, nil).Resolve(CopyFilesName, "", map[string]any{
		"patterns": []any{"*.c", "!build/"},
	})
	require.NoError(t, err)
	require.NoError(t, action.Exec(context.Background(), in, out))

	assert.FileExists(t, filepath.Join(out, "files", "main.c"))
	assert.FileExists(t, filepath.Join(out, "files", "lib", "util.c"))
	assert.NoFileExists(t, filepath.Join(out, "files", "lib", "util.o"))
	assert.NoFileExists(t, filepath.Join(out, "files", "build", "gen.c"))
}

func TestCopyFilesOptions(t *testing.T) {
	reg := registry(t, nil)
	tests := []struct {
		name string
		with map[string]any
	}{
		{"no patterns", map[string]any{}},
		{"unknown key", map[string]any{"patterns": []any{"*.c"}, "recursive": true}},
		{"escaping dest", map[string]any{"patterns": []any{"*.c"}, "dest": "../up"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Resolve(CopyFilesName, "", tt.with)
			assert.Error(t, err)
		})
	}
}

func TestCopyFilesNoMatch(t *testing.T) {
	action, err := NewCopyFiles([]string{"*.rs"}, "")
	require.NoError(t, err)
	err = action.Exec(context.Background(), t.TempDir(), t.TempDir())
	assert.ErrorContains(t, err, "no files match")
}

func TestLLMSourceCheck(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "hanoi.c"), "void hanoi(int n) { for (;;) {} }")
	with := map[string]any{"file": "hanoi.c", "criteria": "Implement an iterative Tower of Hanoi."}

	tests := []struct {
		name    string
		answer  string
		wantErr string
		want    string
	}{
		{"pass", `{"result": true, "reason": "uses a loop"}`, "", `{"result":true,"reason":"uses a loop"}`},
		{"fenced fail", "```json\n{\"result\": false, \"reason\": \"recursive\"}\n```", "criteria not met: recursive",
			`{"result":false,"reason":"recursive"}`},
		{"garbage", "I think so", "not JSON", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := t.TempDir()
			fc := &fakeCompleter{answer: tt.answer}
			action, err := registry(t, fc).Resolve(LLMSourceCheckName, "", with)
			require.NoError(t, err)

			err = action.Exec(context.Background(), in, out)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, fc.system, "Implement an iterative Tower of Hanoi.")
			assert.Contains(t, fc.prompt, "void hanoi")

			if tt.want == "" {
				assert.NoFileExists(t, filepath.Join(out, LLMSourceCheckFile))
				return
			}
			data, err := os.ReadFile(filepath.Join(out, LLMSourceCheckFile))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestLLMSourceCheckMissingFile(t *testing.T) {
	out := t.TempDir()
	action, err := registry(t, nil).Resolve(LLMSourceCheckName, "", map[string]any{"file": "gone.c", "criteria": "x"})
	require.NoError(t, err)

	err = action.Exec(context.Background(), t.TempDir(), out)
	assert.ErrorContains(t, err, "gone.c not found")
	data, err := os.ReadFile(filepath.Join(out, LLMSourceCheckFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":false,"reason":"!File not found."}`, string(data))
}

func TestLLMSourceCheckWithoutModel(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "a.c"), "")
	action, err := registry(t, nil).Resolve(LLMSourceCheckName, "", map[string]any{"file": "a.c", "criteria": "x"})
	require.NoError(t, err)
	assert.ErrorContains(t, action.Exec(context.Background(), in, t.TempDir()), "OPENAI_API_KEY not set")
}

func TestLLMSourceCheckUnknownPromptVersion(t *testing.T) {
	_, err := registry(t, nil).Resolve(LLMSourceCheckName, "", map[string]any{
		"file": "a.c", "criteria": "x", "prompt_version": "9.9.9",
	})
	assert.ErrorContains(t, err, "version 9.9.9 not found")
}
