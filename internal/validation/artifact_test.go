package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forja-io/forja/pkg/schema"
)

func newTestValidator(t *testing.T) *ArtifactValidator {
	t.Helper()
	v, err := NewArtifactValidator()
	require.NoError(t, err)
	return v
}

func TestValidateEnvelope_FlatShape(t *testing.T) {
	v := newTestValidator(t)
	err := v.ValidateEnvelope([]byte(`{"run_id": "RUN_1", "content": {"artifact": {}}}`))
	assert.NoError(t, err)
}

func TestValidateEnvelope_WrappedShape(t *testing.T) {
	v := newTestValidator(t)
	err := v.ValidateEnvelope([]byte(`{"body": {"run_id": "RUN_1", "artifact_type": "agile"}}`))
	assert.NoError(t, err)
}

func TestValidateEnvelope_MissingRunID(t *testing.T) {
	v := newTestValidator(t)

	err := v.ValidateEnvelope([]byte(`{"content": {"artifact": {}}}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	err = v.ValidateEnvelope([]byte(`{"body": {"content": {}}}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestValidateEnvelope_MalformedJSON(t *testing.T) {
	v := newTestValidator(t)
	err := v.ValidateEnvelope([]byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestValidateContent_UnknownTypePasses(t *testing.T) {
	v := newTestValidator(t)
	assert.NoError(t, v.ValidateContent("diagramacion", map[string]any{"anything": true}))
}

func TestValidateContent_ValidRequirements(t *testing.T) {
	v := newTestValidator(t)
	content := map[string]any{
		"artifact": map[string]any{
			"context": map[string]any{
				"domain": "ecommerce",
				"actors": []any{"buyer", "seller"},
			},
			"functional_requirements": []any{
				map[string]any{
					"id":                  "REQ-F-001",
					"title":               "Checkout",
					"description":         "Buyers can check out a cart",
					"priority":            "MUST",
					"acceptance_criteria": []any{"cart converts to order"},
				},
			},
		},
		"justification": "initial draft",
	}
	assert.NoError(t, v.ValidateContent("requirements", content))
}

func TestValidateContent_InvalidRequirementsCollectsViolations(t *testing.T) {
	v := newTestValidator(t)
	content := map[string]any{
		"artifact": map[string]any{
			"functional_requirements": []any{
				map[string]any{
					"id":          "BAD-ID",
					"title":       "Checkout",
					"description": "Buyers can check out a cart",
					"priority":    "MAYBE",
				},
			},
		},
	}

	err := v.ValidateContent("requirements", content)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	var ferr *schema.ForjaError
	require.ErrorAs(t, err, &ferr)
	violations, ok := ferr.Details["violations"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestValidateContent_EmptyFunctionalRequirements(t *testing.T) {
	v := newTestValidator(t)
	content := map[string]any{
		"artifact": map[string]any{
			"functional_requirements": []any{},
		},
	}
	err := v.ValidateContent("requirements", content)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}
