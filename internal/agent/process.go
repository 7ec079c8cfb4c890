package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxlabs/voicebridge/internal/observability"
)

// ProcessRunner executes agent tasks by launching a CLI subprocess and
// parsing its JSONL stdout stream into progress entries.
type ProcessRunner struct {
	command string
	logger  zerolog.Logger

	mu      sync.Mutex
	entries []ProgressEntry
	cancel  context.CancelFunc
}

// NewProcessRunner creates a runner around the given agent CLI command.
func NewProcessRunner(command string) *ProcessRunner {
	return &ProcessRunner{
		command: command,
		logger:  observability.WithComponent("agent.runner"),
	}
}

// Execute launches the agent subprocess and blocks until it finishes,
// returning the final result text from the stream's result line.
func (r *ProcessRunner) Execute(ctx context.Context, task string, imagePNG []byte) (string, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.entries = nil
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
	}()

	if len(imagePNG) > 0 {
		path, err := writeImageContext(imagePNG)
		if err != nil {
			return "", fmt.Errorf("write image context: %w", err)
		}
		defer os.Remove(path)
		task = task + "\n\nA screenshot of the user's screen is available at " + path
	}

	cmd := exec.CommandContext(runCtx, r.command, "-p", task, "--output-format", "stream-json", "--verbose")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start agent process: %w", err)
	}
	r.logger.Info().Str("command", r.command).Msg("Agent process started")

	var result string
	var resultErr error
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if text, done, isErr := r.ingestLine(line); done {
			result = text
			if isErr {
				resultErr = fmt.Errorf("agent task failed: %s", text)
			}
		}
	}

	waitErr := cmd.Wait()
	if runCtx.Err() != nil {
		return "", runCtx.Err()
	}
	if resultErr != nil {
		return "", resultErr
	}
	if waitErr != nil {
		return "", fmt.Errorf("agent process: %w", waitErr)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read agent output: %w", err)
	}

	r.logger.Info().Int("steps", len(r.Progress())).Msg("Agent task completed")
	return result, nil
}

// Progress returns a snapshot of the progress entries observed so far.
func (r *ProcessRunner) Progress() []ProgressEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Cancel kills the running subprocess. No-op when idle.
func (r *ProcessRunner) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		r.logger.Info().Msg("Agent task cancelled")
	}
}

// streamLine is one JSONL line of agent output.
type streamLine struct {
	Type    string `json:"type"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
	Content  json.RawMessage `json:"content"`
	IsError  bool            `json:"is_error"`
}

// ingestLine parses one stdout line into progress entries. It returns the
// final result when the line is the stream's terminal result record.
// Unparseable lines are skipped; the stream may interleave non-JSON noise.
func (r *ProcessRunner) ingestLine(data []byte) (result string, done bool, isErr bool) {
	var line streamLine
	if err := json.Unmarshal(data, &line); err != nil {
		return "", false, false
	}

	if line.Type == "result" {
		return line.Result, true, line.IsError
	}

	for _, block := range line.Message.Content {
		r.appendBlock(block)
	}
	return "", false, false
}

func (r *ProcessRunner) appendBlock(block contentBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch block.Type {
	case "text":
		if block.Text == "" {
			return
		}
		// Streaming text mutates the last text entry in place.
		if n := len(r.entries); n > 0 && r.entries[n-1].Kind == KindText {
			r.entries[n-1].Content = block.Text
			return
		}
		r.entries = append(r.entries, ProgressEntry{
			ID:      uuid.NewString(),
			Kind:    KindText,
			Content: block.Text,
		})

	case "thinking":
		r.entries = append(r.entries, ProgressEntry{
			ID:      uuid.NewString(),
			Kind:    KindThinking,
			Content: block.Thinking,
		})

	case "tool_use":
		kind := KindToolUse
		switch block.Name {
		case "WebSearch", "WebFetch":
			kind = KindWebSearch
		case "Bash":
			kind = KindCodeExecution
		}
		r.entries = append(r.entries, ProgressEntry{
			ID:      uuid.NewString(),
			Kind:    kind,
			Tool:    block.Name,
			Content: string(block.Input),
		})

	case "tool_result":
		kind := KindToolResult
		content := strings.Trim(string(block.Content), `"`)
		if block.IsError {
			kind = KindToolError
			if strings.Contains(strings.ToLower(content), "denied") {
				kind = KindToolDenied
			}
		}
		r.entries = append(r.entries, ProgressEntry{
			ID:      uuid.NewString(),
			Kind:    kind,
			Content: content,
		})
	}
}

func writeImageContext(png []byte) (string, error) {
	f, err := os.CreateTemp("", "voicebridge-screen-*.png")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(png); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
