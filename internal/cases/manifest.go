package cases

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// manifestSchema constrains case.yaml documents.
const manifestSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["steps", "eval"],
  "definitions": {
    "argv": {
      "oneOf": [
        {"type": "string", "minLength": 1},
        {"type": "array", "minItems": 1, "items": {"type": "string"}}
      ]
    }
  },
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "oneOf": [
          {
            "type": "object",
            "additionalProperties": false,
            "required": ["run"],
            "properties": {
              "run": {"$ref": "#/definitions/argv"},
              "stdin": {"type": "string"}
            }
          },
          {
            "type": "object",
            "additionalProperties": false,
            "required": ["extension"],
            "properties": {
              "extension": {"type": "string", "minLength": 1},
              "with": {"type": "object"}
            }
          }
        ]
      }
    },
    "eval": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "interactive": {"const": true},
        "checks": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "minProperties": 1,
            "maxProperties": 1,
            "additionalProperties": false,
            "properties": {
              "stdout_contains": {"type": "string"},
              "stdout_not_contains": {"type": "string"},
              "stderr_contains": {"type": "string"},
              "stderr_not_contains": {"type": "string"},
              "stdout_matches": {"type": "string"},
              "stderr_matches": {"type": "string"},
              "stdout_equals": {"type": "string"},
              "stdout_equals_file": {"type": "string"}
            }
          }
        },
        "script": {"$ref": "#/definitions/argv"}
      },
      "oneOf": [
        {"required": ["interactive"]},
        {"required": ["checks"]},
        {"required": ["script"]}
      ]
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(manifestSchema)

// ManifestError lists the schema violations of a case manifest.
type ManifestError struct {
	Path     string
	Problems []string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("invalid case manifest %s: %s", e.Path, strings.Join(e.Problems, "; "))
}

type manifest struct {
	Steps []stepSpec `yaml:"steps"`
	Eval  evalSpec   `yaml:"eval"`
}

type stepSpec struct {
	Run       argv           `yaml:"run"`
	Stdin     string         `yaml:"stdin"`
	Extension string         `yaml:"extension"`
	With      map[string]any `yaml:"with"`
}

type evalSpec struct {
	Interactive bool                `yaml:"interactive"`
	Checks      []map[string]string `yaml:"checks"`
	Script      argv                `yaml:"script"`
}

// argv accepts either a list of arguments or a single shell-like string.
type argv []string

func (a *argv) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		words, err := shlex.Split(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*a = words
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*a = list
	return nil
}

// parseManifest validates data against the schema and decodes it.
func parseManifest(path string, data []byte) (*manifest, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if doc == nil {
		return nil, &ManifestError{Path: path, Problems: []string{"document is empty"}}
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed for %s: %w", path, err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, &ManifestError{Path: path, Problems: problems}
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &m, nil
}
