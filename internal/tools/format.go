package tools

import (
	"encoding/json"
	"hash/fnv"
	"strings"

	"github.com/voxlabs/voicebridge/internal/agent"
)

// maxProgressRunes is the display budget for one progress line.
const maxProgressRunes = 80

// FormatProgress renders one agent progress entry as a transcript line:
// a verb for the underlying action plus an extracted target, truncated to
// the display budget.
func FormatProgress(e agent.ProgressEntry) string {
	var line string

	switch e.Kind {
	case agent.KindThinking:
		line = "Thinking..."
	case agent.KindText:
		line = e.Content
	case agent.KindWebSearch:
		line = "Searching the web: " + extractTarget(e)
	case agent.KindCodeExecution:
		line = "Running: " + extractTarget(e)
	case agent.KindToolUse:
		line = toolVerb(e.Tool) + " " + extractTarget(e)
	case agent.KindToolResult:
		line = "Done"
	case agent.KindToolError:
		line = "Step failed: " + e.Content
	case agent.KindToolDenied:
		line = "Permission denied for a tool"
	default:
		line = e.Content
	}

	return Truncate(strings.TrimSpace(line), maxProgressRunes)
}

func toolVerb(tool string) string {
	switch tool {
	case "Read":
		return "Reading"
	case "Edit", "MultiEdit":
		return "Editing"
	case "Write":
		return "Writing"
	case "Grep", "Glob":
		return "Searching"
	case "Bash":
		return "Running"
	case "TodoWrite":
		return "Planning"
	default:
		return "Using " + tool + ":"
	}
}

// extractTarget pulls a displayable target out of a tool-use input, the
// file path, command, query or pattern the tool is acting on.
func extractTarget(e agent.ProgressEntry) string {
	var input map[string]any
	if err := json.Unmarshal([]byte(e.Content), &input); err != nil {
		return e.Content
	}
	for _, key := range []string{"file_path", "command", "query", "pattern", "url", "path"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return e.Tool
}

// Truncate cuts s to max runes, appending an ellipsis when it was longer.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// Fingerprint hashes a progress entry's observable content so the poll
// loop can detect in-place mutation without a full diff.
func Fingerprint(e agent.ProgressEntry) uint64 {
	h := fnv.New64a()
	h.Write([]byte(string(e.Kind)))
	h.Write([]byte{0})
	h.Write([]byte(e.Tool))
	h.Write([]byte{0})
	h.Write([]byte(e.Content))
	return h.Sum64()
}
