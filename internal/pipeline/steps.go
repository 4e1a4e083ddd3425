package pipeline

import "strings"

// StepDefinition describes one stage of the six-step design pipeline.
// The table is static configuration: adding a step means appending here
// (and optionally overriding its webhook URL via config); no other
// component changes.
type StepDefinition struct {
	Ordinal      int
	Slug         string
	Name         string
	ArtifactType string
	WebhookURL   string
}

// defaultEngineBaseURL matches the local n8n instance the agents run on.
const defaultEngineBaseURL = "http://localhost:5678"

var steps = []StepDefinition{
	{Ordinal: 1, Slug: "requirements", Name: "Requirements Agent", ArtifactType: "requirements", WebhookURL: defaultEngineBaseURL + "/webhook/brief-to-requirements"},
	{Ordinal: 2, Slug: "inception", Name: "Inception Agent", ArtifactType: "inception", WebhookURL: defaultEngineBaseURL + "/webhook/inception"},
	{Ordinal: 3, Slug: "agile", Name: "Agile Agent", ArtifactType: "agile", WebhookURL: defaultEngineBaseURL + "/webhook/HU"},
	{Ordinal: 4, Slug: "diagramacion", Name: "Diagramacion Agent", ArtifactType: "diagramacion", WebhookURL: defaultEngineBaseURL + "/webhook/Diagramacion"},
	{Ordinal: 5, Slug: "pseudocodigo", Name: "Pseudocodigo Agent", ArtifactType: "pseudocodigo", WebhookURL: defaultEngineBaseURL + "/webhook/Pseudocodigo"},
	{Ordinal: 6, Slug: "qa", Name: "QA Agent", ArtifactType: "qa", WebhookURL: defaultEngineBaseURL + "/webhook/QA"},
}

// OverridesForEngine rebases every default webhook URL onto the given
// engine base URL, keeping the per-step paths. Returns nil when the base
// is empty or already the default, so callers can pass the result
// straight to New.
func OverridesForEngine(baseURL string) map[string]string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || baseURL == defaultEngineBaseURL {
		return nil
	}
	out := make(map[string]string, len(steps))
	for _, s := range steps {
		out[s.Slug] = baseURL + strings.TrimPrefix(s.WebhookURL, defaultEngineBaseURL)
	}
	return out
}

// Pipeline holds the resolved step table for one process. It is immutable
// after construction.
type Pipeline struct {
	steps     []StepDefinition
	bySlug    map[string]StepDefinition
	byOrdinal map[int]StepDefinition
}

// New builds a Pipeline from the static step table, applying per-slug
// webhook URL overrides. An empty override leaves the default in place.
func New(webhookOverrides map[string]string) *Pipeline {
	p := &Pipeline{
		bySlug:    make(map[string]StepDefinition, len(steps)),
		byOrdinal: make(map[int]StepDefinition, len(steps)),
	}
	for _, s := range steps {
		if url := strings.TrimSpace(webhookOverrides[s.Slug]); url != "" {
			s.WebhookURL = url
		}
		p.steps = append(p.steps, s)
		p.bySlug[s.Slug] = s
		p.byOrdinal[s.Ordinal] = s
	}
	return p
}

// Steps returns all step definitions in pipeline order.
func (p *Pipeline) Steps() []StepDefinition {
	out := make([]StepDefinition, len(p.steps))
	copy(out, p.steps)
	return out
}

// Len returns the number of pipeline steps.
func (p *Pipeline) Len() int { return len(p.steps) }

// BySlug looks up a step by its slug.
func (p *Pipeline) BySlug(slug string) (StepDefinition, bool) {
	s, ok := p.bySlug[slug]
	return s, ok
}

// ByOrdinal looks up a step by its 1-based ordinal.
func (p *Pipeline) ByOrdinal(ordinal int) (StepDefinition, bool) {
	s, ok := p.byOrdinal[ordinal]
	return s, ok
}

// First returns the first pipeline step.
func (p *Pipeline) First() StepDefinition { return p.steps[0] }

// Next returns the step following the given ordinal, or false when the
// given ordinal is the last step.
func (p *Pipeline) Next(ordinal int) (StepDefinition, bool) {
	return p.ByOrdinal(ordinal + 1)
}

// ArtifactType returns the artifact type produced by the step with the
// given ordinal, or "" when the ordinal is out of range.
func (p *Pipeline) ArtifactType(ordinal int) string {
	s, ok := p.byOrdinal[ordinal]
	if !ok {
		return ""
	}
	return s.ArtifactType
}
