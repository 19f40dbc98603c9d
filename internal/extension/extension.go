// Package extension is the surface an agent host drives: two tools, the
// session and turn lifecycle, and follow-up delivery of human activity.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/panemirror/panemirror/internal/events"
	"github.com/panemirror/panemirror/internal/mirror"
	"github.com/panemirror/panemirror/internal/policy"
	"github.com/panemirror/panemirror/internal/redaction"
	"github.com/panemirror/panemirror/internal/terminal"
)

// Host receives follow-up messages. A follow-up is informational and must
// not start an agent turn by itself.
type Host interface {
	FollowUp(ctx context.Context, text string) error
}

// Options configures an Extension.
type Options struct {
	Logger *slog.Logger
	Mirror mirror.Options

	// Cwd is the agent's working directory; commands run there.
	Cwd string
	// Policy, when set, gates every command.
	Policy *policy.Holder
	// ReadOnly rejects commands that could modify anything.
	ReadOnly bool
	// FollowUpBuffer bounds queued activity reports (default 256).
	FollowUpBuffer int
	// NoActivity skips the loop that reports commands the human runs.
	NoActivity bool
	// Redaction scans activity reports for credentials before delivery.
	// The zero value redacts with the built-in patterns.
	Redaction redaction.Config
}

// Extension wires a Mirror to a Host.
type Extension struct {
	mirror  *mirror.Mirror
	emitter *events.Emitter
	opts    Options
	logger  *slog.Logger
}

// New creates an extension driving backend. Activity reports are queued
// and delivered to host in order.
func New(backend terminal.Backend, host Host, opts Options) *Extension {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Cwd == "" {
		opts.Cwd, _ = os.Getwd()
	}
	emitter := events.NewEmitter(events.SinkFunc(host.FollowUp), opts.FollowUpBuffer, logger)
	mopts := opts.Mirror
	rcfg := opts.Redaction
	if rcfg.Mode == "" {
		rcfg.Mode = redaction.ModeRedact
	}
	mopts.Reporter = &redactingReporter{next: emitter, cfg: rcfg, logger: logger}
	if mopts.Logger == nil {
		mopts.Logger = logger
	}
	return &Extension{
		mirror:  mirror.New(backend, mopts),
		emitter: emitter,
		opts:    opts,
		logger:  logger.With("component", "extension"),
	}
}

// Mirror returns the underlying orchestrator.
func (e *Extension) Mirror() *mirror.Mirror { return e.mirror }

// SessionStart acquires the pane, installs the hook and starts watching for
// human activity. An unavailable terminal is logged, not returned: the
// tools report it when called.
func (e *Extension) SessionStart(ctx context.Context) {
	e.emitter.Start()
	if err := e.mirror.EnsureReady(ctx); err != nil {
		var ue *terminal.UnavailableError
		if errors.As(err, &ue) {
			e.logger.Warn("shared terminal unavailable", "backend", ue.Backend, "reason", ue.Reason, "hint", ue.Hint)
		} else {
			e.logger.Warn("shared terminal not ready", "error", err)
		}
	}
	if e.opts.NoActivity {
		return
	}
	e.mirror.Start(context.WithoutCancel(ctx))
}

// TurnStart suppresses activity reports while the agent works.
func (e *Extension) TurnStart() { e.mirror.SetAgentBusy(true) }

// TurnEnd re-enables activity reports.
func (e *Extension) TurnEnd() { e.mirror.SetAgentBusy(false) }

// SessionShutdown stops the activity loop, frees backend resources and
// flushes queued follow-ups.
func (e *Extension) SessionShutdown(ctx context.Context) {
	e.mirror.Close()
	if err := e.emitter.Close(ctx); err != nil {
		e.logger.Debug("follow-up queue not drained", "error", err, "dropped", e.emitter.Dropped())
	}
}

// BashInput is the input of the bash tool.
type BashInput struct {
	Command string `json:"command" jsonschema:"the shell command to run in the shared terminal"`
	Timeout *int   `json:"timeout,omitempty" jsonschema:"timeout in seconds (default 120)"`
}

// ReadInput is the input of the read_terminal tool.
type ReadInput struct {
	Lines int `json:"lines,omitempty" jsonschema:"number of scrollback lines to read (default 200)"`
}

// Details is the structured part of a bash result.
type Details struct {
	ExitCode  int    `json:"exit_code"`
	Command   string `json:"command"`
	Cwd       string `json:"cwd,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// ToolResult is what a tool call returns to the host.
type ToolResult struct {
	Text    string   `json:"text"`
	IsError bool     `json:"is_error,omitempty"`
	Details *Details `json:"details,omitempty"`
}

func errorResult(format string, args ...any) ToolResult {
	return ToolResult{Text: fmt.Sprintf(format, args...), IsError: true}
}

// Bash runs a command in the shared pane. A non-zero exit is an error
// result; timeouts and cancellation are not.
func (e *Extension) Bash(ctx context.Context, in BashInput) (res ToolResult) {
	defer e.recoverTool("bash", &res)

	command := strings.TrimSpace(in.Command)
	if command == "" {
		return errorResult("command is required")
	}
	if e.opts.ReadOnly {
		if ok, reason := policy.ReadOnly(command); !ok {
			return errorResult("Command rejected in read-only mode: %s", reason)
		}
	}
	if e.opts.Policy != nil {
		if m := e.opts.Policy.Check(command); m != nil && m.Action == policy.ActionBlock {
			reason := m.Reason
			if reason == "" {
				reason = "matches " + m.Pattern
			}
			return errorResult("Command blocked by policy: %s", reason)
		}
	}

	req := mirror.Request{Command: in.Command, Cwd: e.opts.Cwd}
	if in.Timeout != nil && *in.Timeout > 0 {
		req.Timeout = time.Duration(*in.Timeout) * time.Second
	}
	out, err := e.mirror.Exec(ctx, req)
	if err != nil {
		return e.execError(err)
	}

	text := out.Output
	if text == "" {
		text = "(no output)"
	}
	return ToolResult{
		Text:    text,
		IsError: out.ExitCode != 0 && !out.TimedOut && !out.Cancelled,
		Details: &Details{
			ExitCode:  out.ExitCode,
			Command:   in.Command,
			Cwd:       out.Cwd,
			TimedOut:  out.TimedOut,
			Cancelled: out.Cancelled,
		},
	}
}

func (e *Extension) execError(err error) ToolResult {
	switch {
	case errors.Is(err, terminal.ErrUnavailable):
		return errorResult("Shared terminal unavailable: %v", err)
	case errors.Is(err, terminal.ErrPaneClosed):
		return errorResult("The shared terminal pane was closed. A new one will be opened on the next command.")
	case errors.Is(err, terminal.ErrHookInstall):
		return errorResult("Could not install the shell hook in the shared terminal: %v", err)
	case errors.Is(err, terminal.ErrNoPane):
		return errorResult("The configured terminal target does not exist: %v", err)
	case errors.Is(err, mirror.ErrEmptyCommand):
		return errorResult("command is required")
	}
	e.logger.Warn("command failed, resetting terminal state", "error", err)
	e.mirror.Reset()
	return errorResult("%v", err)
}

// ReadTerminal returns raw pane text.
func (e *Extension) ReadTerminal(ctx context.Context, in ReadInput) (res ToolResult) {
	defer e.recoverTool("read_terminal", &res)
	text, err := e.mirror.Read(ctx, in.Lines)
	if err != nil {
		if errors.Is(err, terminal.ErrUnavailable) {
			return errorResult("Shared terminal unavailable: %v", err)
		}
		e.mirror.Reset()
		return errorResult("%v", err)
	}
	return ToolResult{Text: text}
}

// recoverTool turns a panic inside a tool into an error result so one bad
// call cannot take the host down.
func (e *Extension) recoverTool(tool string, res *ToolResult) {
	r := recover()
	if r == nil {
		return
	}
	e.logger.Error("tool panicked", "tool", tool, "panic", r)
	e.mirror.Reset()
	*res = errorResult("internal error: %v", r)
}
