// Package extensions provides the built-in Extension steps that case
// manifests can name.
package extensions

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/JacobLinCool/cpta/internal/cases"
	"github.com/JacobLinCool/cpta/internal/providers"
)

// Deps are the collaborators built-in extensions need. Completer is called
// only when an extension that needs a model runs, so a missing API key
// fails that step and nothing else.
type Deps struct {
	Completer func() (providers.Completer, error)
}

// Register adds every built-in extension to reg.
func Register(reg *cases.Registry, deps Deps) error {
	if err := reg.Register(CopyFilesName, newCopyFiles); err != nil {
		return err
	}
	return reg.Register(LLMSourceCheckName, func(caseDir string, with map[string]any) (cases.Action, error) {
		return newLLMSourceCheck(deps, with)
	})
}

// decodeWith maps a manifest's `with:` block onto out.
func decodeWith(with map[string]any, out any) error {
	data, err := yaml.Marshal(with)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
