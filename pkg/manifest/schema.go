package manifest

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// structureSchema describes the shapes the capability checks read.
// Unknown keys are allowed and nothing is required.
const structureSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "manifest_version": {"type": "integer", "minimum": 1},
    "permissions": {"type": "array"},
    "optional_permissions": {"type": "array"},
    "host_permissions": {"type": "array", "items": {"type": "string"}},
    "content_scripts": {"type": "array", "items": {"type": "object"}},
    "web_accessible_resources": {
      "type": "array",
      "items": {
        "anyOf": [
          {"type": "string"},
          {"type": "object", "properties": {"resources": {"type": "array"}}}
        ]
      }
    },
    "action": {"type": "object"},
    "browser_action": {"type": "object"},
    "chrome_url_overrides": {"type": "object"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(structureSchema))
	})
	return schema, schemaErr
}

// FieldError is a single structural issue at a field path
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the descriptor against the structural schema. Issues do not
// prevent classification; they are reported so odd manifests can be reviewed.
func (d Descriptor) Validate() ([]FieldError, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(map[string]interface{}(d)))
	if err != nil {
		return nil, fmt.Errorf("failed to validate manifest: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	issues := make([]FieldError, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		issues = append(issues, FieldError{Field: e.Field(), Message: e.Description()})
	}
	return issues, nil
}
