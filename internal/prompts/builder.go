package prompts

import (
	"fmt"
	"strings"
)

// Builder fills a prompt's variables and appends extra fragments.
type Builder struct {
	base      *Prompt
	fragments []string
	variables map[string]string
}

// NewBuilder starts from prompt id at version, or its latest version when
// version is empty.
func NewBuilder(r *Registry, id string, version Version) (*Builder, error) {
	var (
		p   *Prompt
		err error
	)
	if version == "" {
		p, err = r.Latest(id)
	} else {
		p, err = r.Get(id, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get base prompt: %w", err)
	}
	return &Builder{
		base:      p,
		fragments: []string{p.Content},
		variables: make(map[string]string),
	}, nil
}

// AddFragment appends text after the prompt, separated by a blank line.
func (b *Builder) AddFragment(text string) *Builder {
	b.fragments = append(b.fragments, text)
	return b
}

func (b *Builder) Set(key, value string) *Builder {
	b.variables[key] = value
	return b
}

// Build substitutes every {{key}}. It fails if a variable the prompt
// declares was never set.
func (b *Builder) Build() (string, error) {
	for _, v := range b.base.Vars {
		if _, ok := b.variables[v]; !ok {
			return "", fmt.Errorf("prompt %s: variable %q not set", b.base.ID, v)
		}
	}

	pairs := make([]string, 0, 2*len(b.variables))
	for key, value := range b.variables {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	// A single pass keeps substituted values from being expanded again.
	return strings.NewReplacer(pairs...).Replace(strings.Join(b.fragments, "\n\n")), nil
}
