package agent

import "context"

// Kind tags a progress entry with the underlying agent action.
type Kind string

const (
	KindThinking      Kind = "thinking"
	KindToolUse       Kind = "tool-use"
	KindToolResult    Kind = "tool-result"
	KindToolError     Kind = "tool-error"
	KindText          Kind = "text"
	KindWebSearch     Kind = "web-search"
	KindToolDenied    Kind = "tool-denied"
	KindCodeExecution Kind = "code-execution"
)

// ProgressEntry is one observed step of an agent run. The list grows as the
// run proceeds and the last entry's Content may mutate in place while the
// agent streams text, so consumers must poll and fingerprint rather than
// assume append-only.
type ProgressEntry struct {
	ID      string
	Kind    Kind
	Tool    string // tool name for tool-use entries
	Content string
}

// Runner is the external coding-agent boundary: execute a task, observe
// its progress, cancel it.
type Runner interface {
	// Execute runs a task to completion and returns the final result text.
	// imagePNG optionally attaches a screenshot as task context.
	Execute(ctx context.Context, task string, imagePNG []byte) (string, error)

	// Progress returns a snapshot of the progress list so far.
	Progress() []ProgressEntry

	// Cancel aborts the running task. Safe to call when nothing is running.
	Cancel()
}
