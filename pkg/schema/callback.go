package schema

// ChangeSummary describes what the generation agent changed in a revised
// artifact, as reported in the callback payload.
type ChangeSummary struct {
	Added    []string `json:"added,omitempty"`
	Removed  []string `json:"removed,omitempty"`
	Modified []string `json:"modified,omitempty"`
}

// CallbackPayload is the canonical, normalized form of an inbound
// completion notification from the generation engine. Callbacks may
// arrive flat or wrapped in a {"body": {...}} envelope; the callback
// package reduces both to this type before any business logic runs.
type CallbackPayload struct {
	RunID         string         `json:"run_id"`
	ArtifactType  string         `json:"artifact_type,omitempty"`
	Content       map[string]any `json:"content"`
	ChangesMade   *ChangeSummary `json:"changes_made,omitempty"`
	Justification string         `json:"justification,omitempty"`
}
