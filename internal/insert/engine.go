package insert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxlabs/voicebridge/internal/observability"
)

// Method identifies which insertion path produced a result.
type Method string

const (
	MethodAccessibility Method = "accessibility"
	MethodClipboard     Method = "clipboard"
)

var (
	// ErrElementNotEditable is returned by the direct path when the target
	// element refuses text input.
	ErrElementNotEditable = errors.New("insert: focused element is not editable")

	// ErrClipboardFailed is returned when the clipboard write or the paste
	// keystroke fails.
	ErrClipboardFailed = errors.New("insert: clipboard operation failed")
)

// Result is the outcome of one insertion attempt. It is always delivered
// to the engine's OnResult callback, never silently dropped.
type Result struct {
	Method Method
	Err    error
}

// Success reports whether the insertion landed.
func (r Result) Success() bool { return r.Err == nil }

// Target is a focused editable UI element, the accessibility boundary.
// A nil Target forces the clipboard fallback.
type Target interface {
	Editable() bool
	Value() (string, error)
	// Selection returns the selected range in runes; a negative start
	// means no selection is available and the text is appended.
	Selection() (start, length int, err error)
	SetValue(text string) error
}

// Clipboard is the host clipboard boundary.
type Clipboard interface {
	Read() (string, error)
	Write(text string) error
}

// Paster simulates the platform paste keystroke.
type Paster interface {
	Paste() error
}

// EngineConfig holds insertion tunables.
type EngineConfig struct {
	PreferredMethod  Method
	SettleDelay      time.Duration // wait between clipboard write and paste
	RestoreDelay     time.Duration // wait before restoring saved clipboard
	RestoreClipboard bool
	OnResult         func(Result)
}

// Engine inserts text into the focused application: a direct accessibility
// write when a target is available, with an automatic clipboard-paste
// fallback that saves and restores the host clipboard.
type Engine struct {
	clipboard Clipboard
	paster    Paster
	cfg       EngineConfig
	logger    zerolog.Logger
}

// NewEngine creates a text insertion engine.
func NewEngine(clipboard Clipboard, paster Paster, cfg EngineConfig) *Engine {
	return &Engine{
		clipboard: clipboard,
		paster:    paster,
		cfg:       cfg,
		logger:    observability.WithComponent("insert.engine"),
	}
}

// Insert writes text into target, falling back to clipboard paste when the
// direct method fails or no target is supplied. The result is returned and
// also delivered to the OnResult callback.
func (e *Engine) Insert(ctx context.Context, text string, target Target) Result {
	if target != nil && e.cfg.PreferredMethod == MethodAccessibility {
		if err := e.insertDirect(text, target); err == nil {
			return e.deliver(Result{Method: MethodAccessibility})
		} else {
			e.logger.Warn().Err(err).Msg("Direct insertion failed, falling back to clipboard")
		}
	}

	if err := e.insertClipboard(ctx, text); err != nil {
		return e.deliver(Result{Method: MethodClipboard, Err: err})
	}
	return e.deliver(Result{Method: MethodClipboard})
}

func (e *Engine) deliver(r Result) Result {
	status := "success"
	if r.Err != nil {
		status = "failure"
	}
	observability.RecordInsertion(string(r.Method), status)

	if r.Err != nil {
		e.logger.Error().Err(r.Err).Str("method", string(r.Method)).Msg("Insertion failed")
	} else {
		e.logger.Debug().Str("method", string(r.Method)).Msg("Insertion completed")
	}

	if e.cfg.OnResult != nil {
		e.cfg.OnResult(r)
	}
	return r
}

// insertDirect writes through the accessibility API: replace the selected
// range when one exists, otherwise append.
func (e *Engine) insertDirect(text string, target Target) error {
	if !target.Editable() {
		return ErrElementNotEditable
	}

	current, err := target.Value()
	if err != nil {
		return fmt.Errorf("read element value: %w", err)
	}

	start, length, err := target.Selection()
	if err != nil {
		return fmt.Errorf("read element selection: %w", err)
	}

	runes := []rune(current)
	var updated string
	if start >= 0 && start <= len(runes) {
		end := start + length
		if end > len(runes) {
			end = len(runes)
		}
		updated = string(runes[:start]) + text + string(runes[end:])
	} else {
		updated = current + text
	}

	if err := target.SetValue(updated); err != nil {
		return fmt.Errorf("write element value: %w", err)
	}
	return nil
}

// insertClipboard performs the paste fallback with the save/settle/paste/
// restore discipline. The saved clipboard is restored after RestoreDelay
// regardless of the paste outcome; a failed paste restores immediately.
func (e *Engine) insertClipboard(ctx context.Context, text string) error {
	var saved string
	canRestore := false
	if e.cfg.RestoreClipboard {
		prev, err := e.clipboard.Read()
		if err != nil {
			e.logger.Warn().Err(err).Msg("Could not save clipboard, skipping restore")
		} else {
			saved = prev
			canRestore = true
		}
	}

	if err := e.clipboard.Write(text); err != nil {
		return fmt.Errorf("%w: %v", ErrClipboardFailed, err)
	}

	e.wait(ctx, e.cfg.SettleDelay)

	if err := e.paster.Paste(); err != nil {
		if canRestore {
			e.restore(saved)
		}
		return fmt.Errorf("%w: paste keystroke: %v", ErrClipboardFailed, err)
	}

	if canRestore {
		e.wait(ctx, e.cfg.RestoreDelay)
		e.restore(saved)
	}
	return nil
}

func (e *Engine) restore(saved string) {
	if err := e.clipboard.Write(saved); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to restore clipboard")
	}
}

func (e *Engine) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
