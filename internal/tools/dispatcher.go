package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxlabs/voicebridge/internal/agent"
	"github.com/voxlabs/voicebridge/internal/observability"
)

// Tool names the remote session may invoke.
const (
	ToolExecuteAgent   = "execute_claude_code"
	ToolTakeScreenshot = "take_screenshot"
)

// ErrToolBusy is returned when a tool call arrives while another is still
// executing. Only one ToolExecutionContext exists at a time; a concurrent
// call is a protocol violation from the remote side.
var ErrToolBusy = errors.New("tools: a tool call is already executing")

// MessageKind tags a transcript message produced by tool execution.
type MessageKind string

const (
	MessageToolStart    MessageKind = "tool-start"
	MessageToolProgress MessageKind = "tool-progress"
	MessageToolResult   MessageKind = "tool-result"
	MessageToolError    MessageKind = "tool-error"
)

// FunctionCall is a tool invocation from the remote session.
type FunctionCall struct {
	Name      string
	Arguments string // raw JSON
	CallID    string
}

// Notifier receives transcript messages produced during tool execution.
type Notifier interface {
	AppendToolMessage(kind MessageKind, text string)
	AppendImageMessage(text string, png []byte)
}

// SessionSender sends tool results back to the remote session.
type SessionSender interface {
	SendFunctionOutput(ctx context.Context, callID, output string) error
	SendImage(ctx context.Context, pngBase64 string) error
	RequestResponse(ctx context.Context) error
}

// MicController mutes the microphone around long-running tool execution.
type MicController interface {
	Muted() bool
	SetMuted(muted bool)
}

// ToolExecutionContext tracks the one in-flight tool call.
type ToolExecutionContext struct {
	CallID   string
	Tool     string
	cancel   context.CancelFunc
	mutedMic bool // whether this dispatch muted the mic, so it can be restored
}

// DispatcherConfig holds tool dispatch tunables.
type DispatcherConfig struct {
	PollInterval time.Duration // progress poll period
	Timeout      time.Duration // hard cap on one tool execution
}

// Dispatcher executes tool calls from the remote session, streaming
// progress into the transcript and returning one structured result per
// call. At most one call executes at a time.
type Dispatcher struct {
	runner     agent.Runner
	screenshot ScreenshotFunc
	notifier   Notifier
	sender     SessionSender
	mic        MicController
	cfg        DispatcherConfig
	metrics    *observability.SessionMetrics
	logger     zerolog.Logger

	mu   sync.Mutex
	exec *ToolExecutionContext
}

// NewDispatcher creates a tool dispatcher.
func NewDispatcher(runner agent.Runner, screenshot ScreenshotFunc, notifier Notifier, sender SessionSender, mic MicController, cfg DispatcherConfig, metrics *observability.SessionMetrics) *Dispatcher {
	return &Dispatcher{
		runner:     runner,
		screenshot: screenshot,
		notifier:   notifier,
		sender:     sender,
		mic:        mic,
		cfg:        cfg,
		metrics:    metrics,
		logger:     observability.WithComponent("tools.dispatcher"),
	}
}

// Active reports whether a tool call is currently executing.
func (d *Dispatcher) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exec != nil
}

// Dispatch routes one function call. The screenshot tool resolves
// synchronously; the agent tool launches in the background and streams
// progress until completion, failure, cancellation or timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, call FunctionCall) error {
	switch call.Name {
	case ToolTakeScreenshot:
		return d.dispatchScreenshot(ctx, call)
	case ToolExecuteAgent:
		return d.dispatchAgent(ctx, call)
	default:
		d.logger.Warn().Str("tool", call.Name).Msg("Unknown tool requested")
		d.metrics.RecordToolEnd(call.Name, "unknown")
		if err := d.sender.SendFunctionOutput(ctx, call.CallID, fmt.Sprintf("Unknown tool: %s", call.Name)); err != nil {
			return err
		}
		return d.sender.RequestResponse(ctx)
	}
}

// dispatchScreenshot captures the screen and feeds it back into the
// conversation as an image message rather than a text tool-result.
func (d *Dispatcher) dispatchScreenshot(ctx context.Context, call FunctionCall) error {
	d.metrics.RecordToolStart()

	png, err := d.screenshot()
	if err != nil {
		d.metrics.RecordToolEnd(call.Name, "error")
		d.notifier.AppendToolMessage(MessageToolError, "Screenshot failed: "+err.Error())
		if sendErr := d.sender.SendFunctionOutput(ctx, call.CallID, "Screenshot failed: "+err.Error()); sendErr != nil {
			return sendErr
		}
		return d.sender.RequestResponse(ctx)
	}

	d.notifier.AppendImageMessage("Screenshot", png)
	if err := d.sender.SendImage(ctx, base64.StdEncoding.EncodeToString(png)); err != nil {
		return err
	}
	if err := d.sender.SendFunctionOutput(ctx, call.CallID, "Screenshot captured and attached."); err != nil {
		return err
	}
	d.metrics.RecordToolEnd(call.Name, "success")
	return d.sender.RequestResponse(ctx)
}

// agentArgs is the JSON argument payload of the agent tool.
type agentArgs struct {
	Task              string `json:"task"`
	IncludeScreenshot bool   `json:"include_screenshot"`
}

func (d *Dispatcher) dispatchAgent(ctx context.Context, call FunctionCall) error {
	var args agentArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return d.rejectCall(ctx, call, "Invalid tool arguments: "+err.Error())
	}
	if args.Task == "" {
		return d.rejectCall(ctx, call, "The tool call is missing a task description.")
	}

	d.mu.Lock()
	if d.exec != nil {
		d.mu.Unlock()
		d.logger.Error().Str("call_id", call.CallID).Msg("Tool call rejected, another is executing")
		return ErrToolBusy
	}

	execCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	exec := &ToolExecutionContext{
		CallID: call.CallID,
		Tool:   call.Name,
		cancel: cancel,
	}
	if !d.mic.Muted() {
		d.mic.SetMuted(true)
		exec.mutedMic = true
	}
	d.exec = exec
	d.mu.Unlock()

	var image []byte
	if args.IncludeScreenshot {
		if png, err := d.screenshot(); err == nil {
			image = png
		} else {
			d.logger.Warn().Err(err).Msg("Screenshot for agent context failed")
		}
	}

	d.metrics.RecordToolStart()
	d.notifier.AppendToolMessage(MessageToolStart, "Starting: "+Truncate(args.Task, maxProgressRunes))
	d.logger.Info().Str("call_id", call.CallID).Msg("Agent tool dispatched")

	go d.runAgent(execCtx, exec, args.Task, image)
	return nil
}

// rejectCall answers a malformed call so the remote session is not left
// waiting on a pending call ID. The rejection surfaces as a tool-error
// transcript message and as the function output.
func (d *Dispatcher) rejectCall(ctx context.Context, call FunctionCall, reason string) error {
	d.logger.Error().Str("call_id", call.CallID).Str("tool", call.Name).Str("reason", reason).Msg("Tool call rejected")
	d.metrics.RecordToolEnd(call.Name, "invalid")
	d.notifier.AppendToolMessage(MessageToolError, reason)
	if err := d.sender.SendFunctionOutput(ctx, call.CallID, reason); err != nil {
		return err
	}
	return d.sender.RequestResponse(ctx)
}

// runAgent executes the agent task while polling its progress feed. The
// feed is an observable list that grows and whose last entry may mutate
// in place, so each poll compares per-entry fingerprints.
func (d *Dispatcher) runAgent(ctx context.Context, exec *ToolExecutionContext, task string, image []byte) {
	type outcome struct {
		result string
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		result, err := d.runner.Execute(ctx, task, image)
		resultCh <- outcome{result: result, err: err}
	}()

	seen := make(map[string]uint64)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.flushProgress(seen)

		case out := <-resultCh:
			d.flushProgress(seen)
			d.completeAgent(exec, out.result, out.err)
			return

		case <-ctx.Done():
			if !d.clear(exec) {
				// Cancel already handled teardown.
				return
			}
			d.runner.Cancel()
			d.logger.Error().Str("call_id", exec.CallID).Msg("Tool execution timed out")
			d.metrics.RecordToolEnd(exec.Tool, "timeout")
			d.notifier.AppendToolMessage(MessageToolError, "Tool execution timed out")
			d.sendResult(exec.CallID, "Tool execution timed out before completing.")
			d.restoreMic(exec)
			return
		}
	}
}

// flushProgress emits one tool-progress message per new or changed entry.
func (d *Dispatcher) flushProgress(seen map[string]uint64) {
	for _, entry := range d.runner.Progress() {
		fp := Fingerprint(entry)
		if prev, ok := seen[entry.ID]; ok && prev == fp {
			continue
		}
		seen[entry.ID] = fp
		d.notifier.AppendToolMessage(MessageToolProgress, FormatProgress(entry))
	}
}

func (d *Dispatcher) completeAgent(exec *ToolExecutionContext, result string, err error) {
	if !d.clear(exec) {
		return
	}

	if err != nil {
		d.logger.Error().Err(err).Str("call_id", exec.CallID).Msg("Agent task failed")
		d.metrics.RecordToolEnd(exec.Tool, "error")
		d.notifier.AppendToolMessage(MessageToolError, "Task failed: "+err.Error())
		d.sendResult(exec.CallID, "The task failed: "+err.Error())
	} else {
		d.logger.Info().Str("call_id", exec.CallID).Msg("Agent task completed")
		d.metrics.RecordToolEnd(exec.Tool, "success")
		d.notifier.AppendToolMessage(MessageToolResult, result)
		d.sendResult(exec.CallID, result)
	}
	d.restoreMic(exec)
}

// Cancel aborts the in-flight tool call: the observation and the
// underlying task are cancelled, a pending call gets an interrupted
// output, the mic is restored and the execution context cleared. Calling
// with no active tool is a no-op.
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	exec := d.exec
	d.exec = nil
	d.mu.Unlock()
	if exec == nil {
		return
	}

	exec.cancel()
	d.runner.Cancel()
	d.logger.Info().Str("call_id", exec.CallID).Msg("Tool call cancelled by user")
	d.metrics.RecordToolEnd(exec.Tool, "cancelled")

	if exec.CallID != "" {
		d.sendResult(exec.CallID, "Tool execution was interrupted by the user.")
	}
	d.notifier.AppendToolMessage(MessageToolError, "Interrupted")
	d.restoreMic(exec)
}

// clear removes exec if it is still the active context; false means some
// other path (user cancellation) already owns teardown.
func (d *Dispatcher) clear(exec *ToolExecutionContext) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exec != exec {
		return false
	}
	d.exec = nil
	exec.cancel()
	return true
}

func (d *Dispatcher) restoreMic(exec *ToolExecutionContext) {
	if exec.mutedMic {
		d.mic.SetMuted(false)
	}
}

func (d *Dispatcher) sendResult(callID, output string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.sender.SendFunctionOutput(ctx, callID, output); err != nil {
		d.logger.Error().Err(err).Str("call_id", callID).Msg("Failed to send function output")
		return
	}
	if err := d.sender.RequestResponse(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to request response")
	}
}
