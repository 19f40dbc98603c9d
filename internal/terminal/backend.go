// Package terminal defines the contract shared by the pane-sharing backends.
//
// A Backend hides how a multiplexer creates and finds panes, how text is
// captured and keys are sent, and how the shell hook signals that a command
// finished. The orchestrator in package mirror is written once against this
// interface; tmux and kitty provide the concrete implementations.
package terminal

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the multiplexer cannot be driven from here: not
	// running inside it, the binary is missing, or remote control is off.
	ErrUnavailable = errors.New("terminal multiplexer unavailable")

	// ErrPaneClosed means the shared pane disappeared while in use.
	ErrPaneClosed = errors.New("shared terminal pane was closed during execution")

	// ErrHookInstall means the shell hook never confirmed it was running.
	ErrHookInstall = errors.New("failed to set up the shared terminal hook")

	// ErrNoPane is returned by operations that need a pane before EnsurePane
	// has produced one.
	ErrNoPane = errors.New("no shared pane")
)

// UnavailableError carries an actionable hint alongside ErrUnavailable.
type UnavailableError struct {
	Backend string
	Reason  string
	Hint    string
}

func (e *UnavailableError) Error() string {
	msg := e.Backend + ": " + e.Reason
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// Unwrap lets errors.Is match ErrUnavailable.
func (e *UnavailableError) Unwrap() error { return ErrUnavailable }

// Backend is the capability set every pane-sharing technology provides.
//
// Implementations are not safe for concurrent mutation of their pane state;
// the orchestrator serializes EnsurePane/ResetState and only overlaps the
// read-side calls (CapturePane, ReadRC, WaitForPrompt).
type Backend interface {
	// Name identifies the backend in logs and status output.
	Name() string

	// EnsurePane returns nil once a live, shell-ready pane is available,
	// creating one if needed. Errors wrap ErrUnavailable when the
	// multiplexer itself is unreachable.
	EnsurePane(ctx context.Context) error

	// PaneAlive checks the multiplexer's live listing. It never answers
	// from cache.
	PaneAlive(ctx context.Context) bool

	// ResetState drops readiness, the cached handle and any signalling
	// resources so the next EnsurePane starts over.
	ResetState()

	// Target returns the current pane handle, or "" when there is none.
	Target() string

	// CapturePane returns up to lines of scrollback plus screen with soft
	// wraps rejoined. lines <= 0 captures only the visible screen.
	CapturePane(ctx context.Context, lines int) (string, error)

	// PaneCwd is the working directory of the pane's foreground process.
	PaneCwd(ctx context.Context) (string, error)

	// ShellName is the process name of the pane's shell (bash, zsh, ...).
	ShellName(ctx context.Context) (string, error)

	SendText(ctx context.Context, text string) error
	SendEnter(ctx context.Context) error
	SendCtrlC(ctx context.Context) error

	// HookCode returns the shell source that installs the prompt hook for
	// the given shell.
	HookCode(shell string) string

	// PrepareForHook clears any previous completion-signal state.
	PrepareForHook(ctx context.Context) error

	// ReadRC returns the last sequence number and exit code recorded by the
	// hook. A pane whose hook never fired reports (0, 0).
	ReadRC(ctx context.Context) (seq int, exitCode int, err error)

	// WaitForPrompt blocks until the hook signals, the timeout elapses or
	// ctx is done. It reports whether a signal was received.
	WaitForPrompt(ctx context.Context, timeout time.Duration) bool

	// UnblockWait fires the signal once to release a blocked waiter.
	UnblockWait()

	// Cleanup releases backend-owned resources (temp files, pipes).
	Cleanup()
}

// BusyMarker is implemented by backends that can show the human that the
// agent is driving the pane (a coloured border, for instance).
type BusyMarker interface {
	MarkBusy(ctx context.Context, busy bool) error
}

// Status is a point-in-time summary of a backend's persisted state.
type Status struct {
	Backend string
	Pane    string
	Alive   bool
	Seq     int
	Exit    int
}

// Describer reports backend state without creating a pane.
type Describer interface {
	Describe(ctx context.Context) (Status, error)
}
