// Package callback normalizes inbound completion payloads from the
// generation engine into the canonical schema.CallbackPayload. The engine
// is a black box behind webhooks: depending on how a workflow is wired it
// may POST the payload flat, wrapped in a {"body": {...}} envelope, or
// (for synchronous webhook responses) as a {"body": [{"json": {...}}]}
// item list. All accepted shapes are enumerated here so the contract
// stays testable instead of duck-typed across handlers.
package callback

import (
	"encoding/json"

	"github.com/forja-io/forja/pkg/schema"
)

// metadata keys recognized at the envelope level. When the payload has no
// "content" key, everything except these becomes the artifact content.
var envelopeKeys = map[string]bool{
	"run_id":        true,
	"artifact_type": true,
}

// Normalize parses a raw callback body and reduces it to the canonical
// payload. The {"body": {...}} wrapper is unwrapped exactly once, never
// recursively. A missing run_id is a validation error; a missing content
// key is not — the remaining fields are treated as the content.
func Normalize(raw []byte) (*schema.CallbackPayload, error) {
	var outer map[string]any
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "malformed callback body: %s", err.Error()).WithCause(err)
	}

	incoming := outer
	if body, ok := outer["body"].(map[string]any); ok {
		incoming = body
	}

	runID, _ := incoming["run_id"].(string)
	if runID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "missing run_id in callback payload")
	}

	payload := &schema.CallbackPayload{RunID: runID}
	if t, ok := incoming["artifact_type"].(string); ok {
		payload.ArtifactType = t
	}

	switch content := incoming["content"].(type) {
	case map[string]any:
		payload.Content = content
	case nil:
		// Defensive fallback: no content key, so the payload itself
		// (minus envelope metadata) is the content.
		fallback := make(map[string]any)
		for k, v := range incoming {
			if !envelopeKeys[k] {
				fallback[k] = v
			}
		}
		payload.Content = fallback
	default:
		// Scalar or array content: wrap so downstream always sees an object.
		payload.Content = map[string]any{"value": content}
	}

	if j, ok := payload.Content["justification"].(string); ok {
		payload.Justification = j
	}
	if cm, ok := payload.Content["changes_made"].(map[string]any); ok {
		payload.ChangesMade = parseChanges(cm)
	}

	return payload, nil
}

func parseChanges(m map[string]any) *schema.ChangeSummary {
	cs := &schema.ChangeSummary{}
	cs.Added = stringSlice(m["added"])
	cs.Removed = stringSlice(m["removed"])
	cs.Modified = stringSlice(m["modified"])
	return cs
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ExtractFromTriggerResponse pulls artifact content out of a synchronous
// webhook response, when the engine answered the trigger call directly
// instead of (or in addition to) calling back later. Accepted shapes:
// {"body": {... "artifact": ...}}, {"body": [{"json": {...}}]}, and
// {"body": {"json": {...}}}. Returns nil when no artifact is present.
func ExtractFromTriggerResponse(responseBody map[string]any) map[string]any {
	if responseBody == nil {
		return nil
	}

	body := responseBody["body"]
	if items, ok := body.([]any); ok && len(items) > 0 {
		if first, ok := items[0].(map[string]any); ok {
			if nested, ok := first["json"].(map[string]any); ok {
				body = nested
			} else {
				body = first
			}
		}
	}

	obj, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	if _, hasArtifact := obj["artifact"]; hasArtifact {
		return obj
	}
	if nested, ok := obj["json"].(map[string]any); ok {
		if _, hasArtifact := nested["artifact"]; hasArtifact {
			return nested
		}
	}
	return nil
}
