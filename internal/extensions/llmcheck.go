package extensions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JacobLinCool/cpta/internal/cases"
	"github.com/JacobLinCool/cpta/internal/prompts"
	"github.com/JacobLinCool/cpta/internal/providers"
)

const (
	// LLMSourceCheckName is the manifest name of the llm-source-check
	// extension.
	LLMSourceCheckName = "llm-source-check"
	// LLMSourceCheckFile is written into the case's output directory.
	LLMSourceCheckFile = "llm-source-check.json"
)

// maxSourceBytes bounds what is sent to the model.
const maxSourceBytes = 64 << 10

// SourceVerdict is the model's judgement of one source file.
type SourceVerdict struct {
	Result bool   `json:"result"`
	Reason string `json:"reason"`
}

// LLMSourceCheck asks a model whether a built source file meets a
// criteria text. The verdict is written to LLMSourceCheckFile; a negative
// verdict is also returned as an error so it lands in the case's stderr.
type LLMSourceCheck struct {
	File      string
	Criteria  string
	system    string
	completer func() (providers.Completer, error)
}

type llmCheckOptions struct {
	File     string `yaml:"file"`
	Criteria string `yaml:"criteria"`
	// PromptVersion pins the system prompt; empty means the latest.
	PromptVersion string `yaml:"prompt_version"`
}

func newLLMSourceCheck(deps Deps, with map[string]any) (cases.Action, error) {
	var opts llmCheckOptions
	if err := decodeWith(with, &opts); err != nil {
		return nil, err
	}
	if opts.File == "" || opts.Criteria == "" {
		return nil, errors.New("llm-source-check needs file and criteria")
	}
	if !filepath.IsLocal(opts.File) {
		return nil, fmt.Errorf("llm-source-check file %q must be relative to the build", opts.File)
	}
	if deps.Completer == nil {
		return nil, errors.New("llm-source-check is not available: no model configured")
	}
	b, err := prompts.NewBuilder(prompts.Default(), prompts.SourceCheck, prompts.Version(opts.PromptVersion))
	if err != nil {
		return nil, err
	}
	system, err := b.Set("criteria", opts.Criteria).Build()
	if err != nil {
		return nil, err
	}
	return &LLMSourceCheck{File: opts.File, Criteria: opts.Criteria, system: system, completer: deps.Completer}, nil
}

func (c *LLMSourceCheck) Exec(ctx context.Context, inputDir, outputDir string) error {
	src, err := os.ReadFile(filepath.Join(inputDir, c.File))
	if errors.Is(err, fs.ErrNotExist) {
		v := SourceVerdict{Result: false, Reason: "!File not found."}
		if err := writeVerdict(outputDir, v); err != nil {
			return err
		}
		return fmt.Errorf("%s not found", c.File)
	}
	if err != nil {
		return err
	}
	if len(src) > maxSourceBytes {
		src = src[:maxSourceBytes]
	}

	model, err := c.completer()
	if err != nil {
		return err
	}
	answer, err := model.Complete(ctx, c.system, string(src))
	if err != nil {
		return err
	}

	v, err := parseVerdict(answer)
	if err != nil {
		return err
	}
	if err := writeVerdict(outputDir, v); err != nil {
		return err
	}
	if !v.Result {
		return fmt.Errorf("criteria not met: %s", v.Reason)
	}
	return nil
}

// parseVerdict accepts the JSON object alone or wrapped in prose or a code
// fence.
func parseVerdict(answer string) (SourceVerdict, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end < start {
		return SourceVerdict{}, fmt.Errorf("model answer is not JSON: %q", answer)
	}
	var v SourceVerdict
	if err := json.Unmarshal([]byte(answer[start:end+1]), &v); err != nil {
		return SourceVerdict{}, fmt.Errorf("model answer is not a verdict: %w", err)
	}
	return v, nil
}

func writeVerdict(dir string, v SourceVerdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, LLMSourceCheckFile), data, 0644)
}
