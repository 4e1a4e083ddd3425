package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forja-io/forja/internal/pipeline"
	"github.com/forja-io/forja/internal/store"
)

const maxJustificationSnippet = 500

// stillProcessingMessage is returned when the bounded wait expires
// before the agent delivers its artifact. The run state is untouched.
const stillProcessingMessage = "El agente sigue procesando la solicitud. Consulta los logs del paso o vuelve a intentar en unos segundos."

// buildAgentMessage synthesizes the operator-facing completion message
// for a received artifact: the agent's justification when it sent one,
// otherwise a listing of the artifact's top-level sections.
func buildAgentMessage(step pipeline.StepDefinition, artifact *store.Artifact) string {
	var content map[string]any
	if err := json.Unmarshal(artifact.Content, &content); err != nil || len(content) == 0 {
		return fmt.Sprintf("%s v%d recibido.", step.Name, artifact.Version)
	}

	if j, ok := content["justification"].(string); ok {
		if j = strings.TrimSpace(j); j != "" {
			return fmt.Sprintf("%s v%d: %s", step.Name, artifact.Version, snippet(j, maxJustificationSnippet))
		}
	}

	doc := content
	if inner, ok := content["artifact"].(map[string]any); ok && len(inner) > 0 {
		doc = inner
	}
	keys := sortedKeys(doc)
	if len(keys) == 0 {
		return fmt.Sprintf("%s v%d recibido.", step.Name, artifact.Version)
	}
	return fmt.Sprintf("%s v%d recibido. Secciones: %s", step.Name, artifact.Version, strings.Join(keys, ", "))
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
