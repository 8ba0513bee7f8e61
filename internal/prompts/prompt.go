// Package prompts holds the versioned prompt templates cpta sends to
// language models.
package prompts

// Version identifies one revision of a prompt.
type Version string

const (
	V1 Version = "1.0.0"
)

// Prompt is a versioned template. Content may reference variables as
// {{name}}.
type Prompt struct {
	ID          string
	Version     Version
	Content     string
	Description string
	// Vars lists the variables Content needs.
	Vars       []string
	Deprecated bool
}
