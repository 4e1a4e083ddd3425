// Package diagram cleans up Mermaid source embedded in diagram
// artifacts. Generation agents frequently return diagrams wrapped in
// markdown code fences, with escaped newlines or tab indentation, none
// of which the downstream renderer accepts.
package diagram

import "strings"

// mermaidPrefixes are the diagram-kind keywords a Mermaid document can
// open with.
var mermaidPrefixes = []string{
	"graph ",
	"flowchart",
	"sequenceDiagram",
	"classDiagram",
	"stateDiagram",
	"stateDiagram-v2",
	"erDiagram",
	"journey",
	"gantt",
	"pie",
	"mindmap",
	"timeline",
	"quadrantChart",
	"requirementDiagram",
	"gitGraph",
	"C4Context",
	"C4Container",
	"C4Component",
	"C4Dynamic",
	"C4Deployment",
}

// LooksLikeMermaid reports whether the string plausibly holds Mermaid source.
func LooksLikeMermaid(value string) bool {
	text := strings.TrimSpace(value)
	if text == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(text), "mermaid\n") {
		return true
	}
	for _, prefix := range mermaidPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// NormalizeCode strips code fences, escaped newlines, a leading
// "mermaid" language line, and tab indentation from Mermaid source.
func NormalizeCode(value string) string {
	text := strings.TrimSpace(value)
	text = strings.ReplaceAll(text, "\\r\\n", "\n")
	text = strings.ReplaceAll(text, "\\n", "\n")
	text = stripCodeFence(text)
	text = strings.TrimSpace(text)

	if strings.HasPrefix(strings.ToLower(text), "mermaid\n") {
		if _, rest, found := strings.Cut(text, "\n"); found {
			text = strings.TrimSpace(rest)
		}
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.ReplaceAll(strings.TrimRight(line, " \t"), "\t", "    ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// NormalizeArtifact walks an artifact payload and normalizes every string
// value that either sits under a diagram-hinting key or looks like
// Mermaid source. Maps and slices are rebuilt; other values pass through.
func NormalizeArtifact(payload any) any {
	switch v := payload.(type) {
	case map[string]any:
		normalized := make(map[string]any, len(v))
		for key, value := range v {
			if s, ok := value.(string); ok {
				keyLower := strings.ToLower(key)
				hinted := strings.Contains(keyLower, "mermaid") || strings.Contains(keyLower, "diagram")
				if hinted || LooksLikeMermaid(s) {
					normalized[key] = NormalizeCode(s)
				} else {
					normalized[key] = s
				}
				continue
			}
			normalized[key] = NormalizeArtifact(value)
		}
		return normalized
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = NormalizeArtifact(item)
		}
		return out
	default:
		return payload
	}
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return text
	}

	first := strings.ToLower(strings.TrimSpace(lines[0]))
	if first != "```" && first != "```mermaid" {
		return text
	}

	content := lines[1:]
	if len(content) > 0 && strings.TrimSpace(content[len(content)-1]) == "```" {
		content = content[:len(content)-1]
	}
	return strings.TrimSpace(strings.Join(content, "\n"))
}
