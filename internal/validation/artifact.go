// Package validation checks callback payloads and artifact content
// against JSON Schemas. Envelope validation is strict; artifact content
// validation is advisory — a nonconforming artifact is reported so the
// reconciler can log it, but never blocks ingestion, because agents
// iterate on artifact shape faster than schemas do.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/forja-io/forja/pkg/schema"
)

// callbackSchemaJSON enumerates the two accepted callback envelope
// shapes: flat, or wrapped once under "body".
const callbackSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://forja.dev/schemas/callback.json",
  "oneOf": [
    { "$ref": "#/$defs/envelope" },
    {
      "type": "object",
      "required": ["body"],
      "properties": {
        "body": { "$ref": "#/$defs/envelope" }
      }
    }
  ],
  "$defs": {
    "envelope": {
      "type": "object",
      "required": ["run_id"],
      "properties": {
        "run_id": { "type": "string", "minLength": 1 },
        "artifact_type": { "type": "string" },
        "content": {}
      }
    }
  }
}`

// requirementsSchemaJSON describes the requirements artifact the first
// agent is expected to produce. Nonconformance is logged, not rejected.
const requirementsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://forja.dev/schemas/requirements.json",
  "type": "object",
  "required": ["artifact"],
  "properties": {
    "artifact": {
      "type": "object",
      "required": ["functional_requirements"],
      "properties": {
        "context": {
          "type": "object",
          "properties": {
            "domain": { "type": "string" },
            "brief_summary": { "type": "string" },
            "actors": { "type": "array", "items": { "type": "string" } },
            "modules_in_scope": { "type": "array", "items": { "type": "string" } }
          }
        },
        "functional_requirements": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["id", "title", "description", "priority"],
            "properties": {
              "id": { "type": "string", "pattern": "^REQ-F-[0-9]{3}$" },
              "title": { "type": "string" },
              "description": { "type": "string" },
              "priority": { "type": "string", "enum": ["MUST", "SHOULD", "COULD", "WONT"] },
              "acceptance_criteria": { "type": "array", "minItems": 1, "items": { "type": "string" } },
              "dependencies": { "type": "array", "items": { "type": "string" } }
            }
          }
        },
        "non_functional_requirements": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id", "description"],
            "properties": {
              "id": { "type": "string", "pattern": "^REQ-NF-[0-9]{3}$" },
              "quality_attribute": {
                "type": "string",
                "enum": ["Security", "Performance", "Reliability", "Usability", "Maintainability", "Observability", "Privacy", "Compliance"]
              },
              "description": { "type": "string" },
              "metric_or_constraint": { "type": ["string", "null"] }
            }
          }
        },
        "assumptions": { "type": "array", "items": { "type": "string" } },
        "open_questions": { "type": "array", "items": { "type": "string" } }
      }
    },
    "justification": { "type": "string" },
    "changes_made": {
      "type": "object",
      "properties": {
        "added": { "type": "array", "items": { "type": "string" } },
        "removed": { "type": "array", "items": { "type": "string" } },
        "modified": { "type": "array", "items": { "type": "string" } }
      }
    }
  }
}`

// ArtifactValidator validates callback envelopes and known artifact
// types. Safe for concurrent use: compiled schemas are immutable.
type ArtifactValidator struct {
	callbackSchema *jsonschema.Schema
	contentSchemas map[string]*jsonschema.Schema
}

// NewArtifactValidator compiles the embedded schemas.
func NewArtifactValidator() (*ArtifactValidator, error) {
	callback, err := compileSchema("https://forja.dev/schemas/callback.json", callbackSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile callback schema: %w", err)
	}
	requirements, err := compileSchema("https://forja.dev/schemas/requirements.json", requirementsSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile requirements schema: %w", err)
	}
	return &ArtifactValidator{
		callbackSchema: callback,
		contentSchemas: map[string]*jsonschema.Schema{
			"requirements": requirements,
		},
	}, nil
}

// ValidateEnvelope checks a raw callback body against the enumerated
// envelope contract.
func (v *ArtifactValidator) ValidateEnvelope(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "malformed callback body").WithCause(err)
	}
	if err := v.callbackSchema.Validate(doc); err != nil {
		return toForjaError(err)
	}
	return nil
}

// ValidateContent checks artifact content against the schema registered
// for its type. Types without a registered schema pass trivially.
func (v *ArtifactValidator) ValidateContent(artifactType string, content map[string]any) error {
	compiled, ok := v.contentSchemas[artifactType]
	if !ok {
		return nil
	}
	doc, err := toJSONValue(content)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize artifact content").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toForjaError(err)
	}
	return nil
}

func compileSchema(url, source string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toForjaError converts a jsonschema.ValidationError into a ForjaError
// with leaf violation messages collected into details.
func toForjaError(err error) *schema.ForjaError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
