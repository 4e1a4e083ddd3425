package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeMermaid(t *testing.T) {
	assert.True(t, LooksLikeMermaid("graph TD\n  A --> B"))
	assert.True(t, LooksLikeMermaid("sequenceDiagram\n  A->>B: hi"))
	assert.True(t, LooksLikeMermaid("mermaid\nflowchart LR"))
	assert.False(t, LooksLikeMermaid(""))
	assert.False(t, LooksLikeMermaid("just a sentence about graphs"))
}

func TestNormalizeCode_StripsFence(t *testing.T) {
	in := "```mermaid\ngraph TD\n  A --> B\n```"
	assert.Equal(t, "graph TD\n  A --> B", NormalizeCode(in))

	bare := "```\ngraph TD\n  A --> B\n```"
	assert.Equal(t, "graph TD\n  A --> B", NormalizeCode(bare))

	// A fence with an unrelated language tag is left alone.
	other := "```json\n{}\n```"
	assert.Equal(t, other, NormalizeCode(other))
}

func TestNormalizeCode_EscapedNewlinesAndTabs(t *testing.T) {
	in := `graph TD\n\tA --> B`
	assert.Equal(t, "graph TD\n    A --> B", NormalizeCode(in))
}

func TestNormalizeCode_LeadingMermaidLine(t *testing.T) {
	in := "mermaid\ngraph TD\n  A --> B"
	assert.Equal(t, "graph TD\n  A --> B", NormalizeCode(in))
}

func TestNormalizeArtifact_HintedKeysAndNested(t *testing.T) {
	payload := map[string]any{
		"architecture_diagram": "```mermaid\ngraph TD\n  A --> B\n```",
		"notes":                "plain text untouched",
		"nested": map[string]any{
			"mermaid_source": `flowchart LR\nX --> Y`,
		},
		"items": []any{
			map[string]any{"diagram": "graph TD\n  C --> D"},
			42,
		},
	}

	got := NormalizeArtifact(payload).(map[string]any)
	assert.Equal(t, "graph TD\n  A --> B", got["architecture_diagram"])
	assert.Equal(t, "plain text untouched", got["notes"])

	nested := got["nested"].(map[string]any)
	assert.Equal(t, "flowchart LR\nX --> Y", nested["mermaid_source"])

	items := got["items"].([]any)
	assert.Equal(t, "graph TD\n  C --> D", items[0].(map[string]any)["diagram"])
	assert.Equal(t, 42, items[1])
}

func TestNormalizeArtifact_UnhintedMermaidStillDetected(t *testing.T) {
	payload := map[string]any{"flow": "graph TD\n  A --> B\t"}
	got := NormalizeArtifact(payload).(map[string]any)
	assert.Equal(t, "graph TD\n  A --> B", got["flow"])
}
