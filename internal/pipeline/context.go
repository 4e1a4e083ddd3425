package pipeline

// RunInfo carries the run fields the composer needs. Kept as a small
// value type so composition stays a pure function over its inputs.
type RunInfo struct {
	Domain string
	Brief  string
}

// contextInputs whitelists which prior artifact types feed each step on a
// forward advance. Not every step sees all upstream output: pseudocodigo
// deliberately skips inception.
var contextInputs = map[string][]string{
	"inception":    {"requirements"},
	"agile":        {"requirements", "inception"},
	"diagramacion": {"requirements", "inception", "agile"},
	"pseudocodigo": {"requirements", "agile", "diagramacion"},
	"qa":           {"requirements", "inception", "agile", "diagramacion", "pseudocodigo"},
}

// briefSteps lists the steps whose context also carries the run's domain
// and original brief.
var briefSteps = map[string]bool{
	"requirements": true,
	"inception":    true,
}

// Compose builds the trigger context for a forward advance to the given
// step. latestByType maps artifact types to their latest content; absent
// types are omitted from the result.
func Compose(slug string, run RunInfo, latestByType map[string]map[string]any) map[string]any {
	ctx := make(map[string]any)

	if briefSteps[slug] {
		ctx["domain"] = run.Domain
		ctx["brief"] = run.Brief
	}

	inputs, ok := contextInputs[slug]
	if !ok && !briefSteps[slug] {
		// Unknown slug: fall back to everything we have, plus the brief.
		ctx["domain"] = run.Domain
		ctx["brief"] = run.Brief
		for t, content := range latestByType {
			ctx[t] = content
		}
		return ctx
	}

	for _, t := range inputs {
		if content, found := latestByType[t]; found {
			ctx[t] = content
		}
	}
	return ctx
}

// ComposeFeedback builds the trigger context for a reject/retry of the
// current step. Rejections are narrow corrections against the step's own
// latest output, never recomposed from upstream history.
func ComposeFeedback(base map[string]any, feedback string) map[string]any {
	return map[string]any{
		"base":     base,
		"feedback": feedback,
	}
}
