// Package mirror runs commands in a pane shared with a human and notices
// commands the human types there.
//
// A Mirror drives one terminal.Backend. Exec sends a command, blocks on the
// hook's completion signal and extracts the output by diffing pane
// captures. The activity loop (Start) waits on the same signal while the
// agent is idle and reports human-typed commands to a Reporter.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panemirror/panemirror/internal/metrics"
	"github.com/panemirror/panemirror/internal/terminal"
)

// Exit codes reported for commands that did not finish on their own.
const (
	ExitTimeout   = 124
	ExitCancelled = 130
)

// TimedOutNote is appended to the output of a command that timed out.
const TimedOutNote = "[command timed out]"

// promptSettleAttempts bounds the extra captures taken while waiting for
// the prompt to appear after the hook signal.
const promptSettleAttempts = 3

// ErrEmptyCommand is returned by Exec for a blank command.
var ErrEmptyCommand = errors.New("empty command")

// Options tunes a Mirror. Zero values take the defaults noted per field.
type Options struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Reporter Reporter

	DefaultTimeout time.Duration // 120s
	WaitSlice      time.Duration // 5s; liveness and cancellation are rechecked between slices
	InterruptWait  time.Duration // 1s; how long a timed-out command gets to redraw after Ctrl-C

	HookAttempts int           // 3
	HookWait     time.Duration // 3s
	HookBackoff  time.Duration // 500ms, multiplied by the attempt number
	SettleDelay  time.Duration // 200ms before measuring the prompt

	CaptureLines int // 1000; scrollback kept in snapshots
	ReadLines    int // 200; default for Read

	ActivityWait   time.Duration // 30s
	BusyPoll       time.Duration // 250ms
	IdlePoll       time.Duration // 1s while no pane is ready
	MinDiff        int           // 2 characters
	MaxReportLines int           // 200
	MaxLineWidth   int           // 500 cells

	// Home is abbreviated to "~" in reports (default $HOME).
	Home string
}

func (o *Options) setDefaults() {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	defInt := func(n *int, v int) {
		if *n <= 0 {
			*n = v
		}
	}
	def(&o.DefaultTimeout, 120*time.Second)
	def(&o.WaitSlice, 5*time.Second)
	def(&o.InterruptWait, time.Second)
	defInt(&o.HookAttempts, 3)
	def(&o.HookWait, 3*time.Second)
	def(&o.HookBackoff, 500*time.Millisecond)
	def(&o.SettleDelay, 200*time.Millisecond)
	defInt(&o.CaptureLines, 1000)
	defInt(&o.ReadLines, 200)
	def(&o.ActivityWait, 30*time.Second)
	def(&o.BusyPoll, 250*time.Millisecond)
	def(&o.IdlePoll, time.Second)
	defInt(&o.MinDiff, 2)
	defInt(&o.MaxReportLines, 200)
	defInt(&o.MaxLineWidth, 500)
	if o.Home == "" {
		o.Home, _ = os.UserHomeDir()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Request is one command execution.
type Request struct {
	Command string
	// Cwd, when set and different from the pane's directory, is entered
	// with "cd" before the command.
	Cwd     string
	Timeout time.Duration
}

// Result is the outcome of Exec. Timeouts and cancellation are results,
// not errors.
type Result struct {
	Command   string
	Cwd       string
	Output    string
	ExitCode  int
	TimedOut  bool
	Cancelled bool
	Duration  time.Duration
}

// Mirror orchestrates one shared pane.
type Mirror struct {
	backend terminal.Backend
	opts    Options
	logger  *slog.Logger

	// execMu keeps tool calls from interleaving keystrokes.
	execMu sync.Mutex

	agentBusy atomic.Bool // set between turn start and turn end
	executing atomic.Bool // set while Exec owns the pane
	waiting   atomic.Bool // the activity loop is blocked on the signal

	mu            sync.Mutex
	hookInstalled bool
	target        string
	shape         PromptShape
	snapshot      string
	agentSeq      int // highest hook sequence caused by our own commands
	reportedSeq   int // highest hook sequence reported as human activity
	pending       []string

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	closed     bool
}

// New creates a Mirror over backend.
func New(backend terminal.Backend, opts Options) *Mirror {
	opts.setDefaults()
	return &Mirror{
		backend: backend,
		opts:    opts,
		logger:  opts.Logger.With("component", "mirror", "backend", backend.Name()),
		shape:   DefaultPromptShape,
	}
}

// Backend returns the backend the mirror drives.
func (m *Mirror) Backend() terminal.Backend { return m.backend }

// SetAgentBusy marks the agent as working on a turn. The activity loop
// reports nothing while it is set.
func (m *Mirror) SetAgentBusy(busy bool) { m.agentBusy.Store(busy) }

// Busy reports whether the agent is in a turn or a command is executing.
func (m *Mirror) Busy() bool { return m.agentBusy.Load() || m.executing.Load() }

// Shape returns the measured prompt shape.
func (m *Mirror) Shape() PromptShape {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shape
}

// Ready reports whether a pane exists and the hook is installed in it.
func (m *Mirror) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hookInstalled && m.target != ""
}

// Reset discards all pane state. The next operation creates or finds a pane
// and reinstalls the hook.
func (m *Mirror) Reset() {
	m.backend.ResetState()
	m.mu.Lock()
	m.hookInstalled = false
	m.target = ""
	m.shape = DefaultPromptShape
	m.snapshot = ""
	m.agentSeq = 0
	m.reportedSeq = 0
	m.mu.Unlock()
	m.opts.Metrics.PaneReset()
}

// ensurePane makes sure a live pane exists and notices when the backend
// handed us a different one.
func (m *Mirror) ensurePane(ctx context.Context) error {
	if err := m.backend.EnsurePane(ctx); err != nil {
		return err
	}
	target := m.backend.Target()
	m.mu.Lock()
	defer m.mu.Unlock()
	if target != m.target {
		if m.target != "" {
			m.logger.Info("shared pane replaced", "old", m.target, "new", target)
		}
		m.target = target
		m.hookInstalled = false
		m.shape = DefaultPromptShape
		m.snapshot = ""
		m.agentSeq = 0
		m.reportedSeq = 0
	}
	return nil
}

// EnsureReady creates the pane if needed and installs the hook once per
// pane lifetime.
func (m *Mirror) EnsureReady(ctx context.Context) error {
	if err := m.ensurePane(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	installed := m.hookInstalled
	m.mu.Unlock()
	if installed {
		return nil
	}
	return m.InstallHook(ctx)
}

// InstallHook injects the prompt hook and measures the prompt. A signal
// alone does not count as success; the hook sequence must advance.
func (m *Mirror) InstallHook(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= m.opts.HookAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, m.opts.HookBackoff*time.Duration(attempt-1)); err != nil {
				return err
			}
		}
		lastErr = m.installOnce(ctx)
		m.opts.Metrics.HookInstall(lastErr == nil)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Debug("hook install attempt failed", "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("%w: %v", terminal.ErrHookInstall, lastErr)
}

func (m *Mirror) installOnce(ctx context.Context) error {
	if err := m.backend.PrepareForHook(ctx); err != nil {
		return err
	}
	seqBefore, _, err := m.backend.ReadRC(ctx)
	if err != nil {
		return err
	}
	shell, err := m.backend.ShellName(ctx)
	if err != nil {
		return fmt.Errorf("detect shell: %w", err)
	}
	if err := m.backend.SendText(ctx, m.backend.HookCode(shell)+"; clear"); err != nil {
		return err
	}
	if err := m.backend.SendEnter(ctx); err != nil {
		return err
	}
	m.backend.WaitForPrompt(ctx, m.opts.HookWait)
	seq, _, err := m.backend.ReadRC(ctx)
	if err != nil {
		return err
	}
	if seq <= seqBefore {
		return fmt.Errorf("hook did not fire (seq %d, before %d)", seq, seqBefore)
	}

	if err := sleepCtx(ctx, m.opts.SettleDelay); err != nil {
		return err
	}
	screen, err := m.backend.CapturePane(ctx, 0)
	if err != nil {
		return err
	}
	snapshot, err := m.backend.CapturePane(ctx, m.opts.CaptureLines)
	if err != nil {
		return err
	}
	shape := DerivePromptShape(screen)

	m.mu.Lock()
	m.hookInstalled = true
	m.shape = shape
	m.snapshot = snapshot
	if seq > m.agentSeq {
		m.agentSeq = seq
	}
	m.mu.Unlock()
	m.logger.Debug("hook installed", "shell", shell, "seq", seq, "prompt_height", shape.Height, "prompt_symbol", shape.Symbol)
	return nil
}

// Read returns raw pane text; lines <= 0 uses the configured default.
func (m *Mirror) Read(ctx context.Context, lines int) (string, error) {
	if lines <= 0 {
		lines = m.opts.ReadLines
	}
	if err := m.ensurePane(ctx); err != nil {
		return "", err
	}
	return m.backend.CapturePane(ctx, lines)
}

// prepareCommand wraps multi-line commands in a brace group and prefixes a
// directory change when needed. Literal newlines inside an open "{" only
// produce continuation prompts, so the hook fires once, and heredocs and
// quoted strings reach the shell untouched.
func prepareCommand(command, cwd, paneCwd string) string {
	text := strings.TrimRight(command, " \t\r\n")
	if strings.Contains(text, "\n") {
		text = "{ " + text + "\n}"
	}
	if cwd != "" && paneCwd != "" && filepath.Clean(cwd) != filepath.Clean(paneCwd) {
		text = "cd " + terminal.ShellQuote(cwd) + " && " + text
	}
	return text
}

// Exec runs one command in the shared pane.
func (m *Mirror) Exec(ctx context.Context, req Request) (Result, error) {
	m.execMu.Lock()
	defer m.execMu.Unlock()
	m.executing.Store(true)
	defer m.executing.Store(false)
	if m.waiting.Load() {
		// Pull the activity loop out of its wait so only we read the signal.
		m.backend.UnblockWait()
	}

	start := time.Now()
	res, err := m.exec(ctx, req)
	res.Duration = time.Since(start)

	switch {
	case err != nil:
		m.opts.Metrics.ObserveCommand(metrics.ResultError, res.Duration)
	case res.Cancelled:
		m.opts.Metrics.ObserveCommand(metrics.ResultCancelled, res.Duration)
	case res.TimedOut:
		m.opts.Metrics.ObserveCommand(metrics.ResultTimeout, res.Duration)
	case res.ExitCode != 0:
		m.opts.Metrics.ObserveCommand(metrics.ResultFailed, res.Duration)
	default:
		m.opts.Metrics.ObserveCommand(metrics.ResultOK, res.Duration)
	}
	return res, err
}

func (m *Mirror) exec(ctx context.Context, req Request) (Result, error) {
	res := Result{Command: req.Command, Cwd: req.Cwd}
	if strings.TrimSpace(req.Command) == "" {
		return res, ErrEmptyCommand
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}

	if err := m.EnsureReady(ctx); err != nil {
		return res, err
	}
	if bm, ok := m.backend.(terminal.BusyMarker); ok {
		_ = bm.MarkBusy(ctx, true)
		defer func() {
			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminal.DefaultCommandTimeout)
			defer cancel()
			_ = bm.MarkBusy(mctx, false)
		}()
	}

	before, err := m.backend.CapturePane(ctx, m.opts.CaptureLines)
	if err != nil {
		return res, fmt.Errorf("capture before: %w", err)
	}
	seqBefore, rcBefore, err := m.backend.ReadRC(ctx)
	if err != nil {
		return res, err
	}
	paneCwd, err := m.backend.PaneCwd(ctx)
	if err != nil {
		m.logger.Debug("pane cwd unavailable", "error", err)
	}
	if res.Cwd == "" {
		res.Cwd = paneCwd
	}
	m.claimHuman(before, seqBefore, rcBefore, paneCwd)

	text := prepareCommand(req.Command, req.Cwd, paneCwd)
	m.logger.Debug("exec", "command", text, "seq_before", seqBefore, "timeout", timeout)
	if err := m.backend.SendText(ctx, text); err != nil {
		return res, err
	}
	if err := m.backend.SendEnter(ctx); err != nil {
		return res, err
	}

	deadline := time.Now().Add(timeout)
	for {
		if ctx.Err() != nil {
			return m.cancelled(ctx, res, seqBefore), nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return m.timedOut(ctx, res, before, text, seqBefore)
		}
		m.backend.WaitForPrompt(ctx, min(m.opts.WaitSlice, remaining))
		if ctx.Err() != nil {
			return m.cancelled(ctx, res, seqBefore), nil
		}

		// Re-read after every wait: the signal may be stale, or it may
		// have been lost while nobody was listening.
		seq, rc, err := m.backend.ReadRC(ctx)
		if err == nil && seq > seqBefore {
			res.ExitCode = rc
			return m.finish(ctx, res, before, text, seq)
		}
		if !m.backend.PaneAlive(ctx) {
			m.Reset()
			return res, terminal.ErrPaneClosed
		}
	}
}

// finish captures the pane, extracts the output and records the capture
// as the new activity snapshot.
func (m *Mirror) finish(ctx context.Context, res Result, before, sent string, seq int) (Result, error) {
	after, drawn, err := m.captureSettled(ctx)
	if err != nil {
		return res, fmt.Errorf("capture after: %w", err)
	}
	res.Output = commandOutput(NewLines(before, after), m.Shape(), sent, drawn)
	m.recordAgent(after, seq)
	return res, nil
}

// captureSettled captures the pane once the prompt has been drawn. The hook
// fires just before the shell prints its prompt, so a capture taken right
// after the signal can miss it. A few retries are made before giving up, in
// which case drawn is false and nothing is cut from the end.
func (m *Mirror) captureSettled(ctx context.Context) (after string, drawn bool, err error) {
	shape := m.Shape()
	for attempt := 0; ; attempt++ {
		after, err = m.backend.CapturePane(ctx, m.opts.CaptureLines)
		if err != nil {
			return "", false, err
		}
		if endsAtPrompt(after, shape) {
			return after, true, nil
		}
		if attempt >= promptSettleAttempts || sleepCtx(ctx, m.opts.SettleDelay) != nil {
			return after, false, nil
		}
	}
}

func (m *Mirror) recordAgent(snapshot string, seq int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snapshot != "" {
		m.snapshot = snapshot
	}
	if seq > m.agentSeq {
		m.agentSeq = seq
	}
}

// cancelled interrupts the command and returns at once. The prompt redraw
// that follows the interrupt is claimed as ours so the activity loop does
// not report it.
func (m *Mirror) cancelled(ctx context.Context, res Result, seqBefore int) Result {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminal.DefaultCommandTimeout)
	defer cancel()
	if err := m.backend.SendCtrlC(cctx); err != nil {
		m.logger.Debug("ctrl-c after cancel failed", "error", err)
	}
	m.recordAgent("", seqBefore+1)
	res.Cancelled = true
	res.ExitCode = ExitCancelled
	res.Output = "Cancelled"
	return res
}

// timedOut interrupts the command, gives the shell a moment to redraw and
// returns whatever output was produced.
func (m *Mirror) timedOut(ctx context.Context, res Result, before, sent string, seqBefore int) (Result, error) {
	if err := m.backend.SendCtrlC(ctx); err != nil {
		m.logger.Debug("ctrl-c after timeout failed", "error", err)
	}
	m.backend.WaitForPrompt(ctx, m.opts.InterruptWait)
	seq, _, _ := m.backend.ReadRC(ctx)
	prompted := seq > seqBefore
	if !prompted {
		seq = seqBefore + 1
	}
	res.TimedOut = true
	res.ExitCode = ExitTimeout

	after, err := m.backend.CapturePane(ctx, m.opts.CaptureLines)
	if err != nil {
		m.recordAgent("", seq)
		res.Output = TimedOutNote
		return res, nil
	}
	drawn := prompted && endsAtPrompt(after, m.Shape())
	out := commandOutput(NewLines(before, after), m.Shape(), sent, drawn)
	out = strings.TrimSuffix(strings.TrimRight(out, "\n"), "^C")
	out = strings.TrimRight(out, " \n")
	if out == "" {
		res.Output = TimedOutNote
	} else {
		res.Output = out + "\n" + TimedOutNote
	}
	m.recordAgent(after, seq)
	return res, nil
}

// Close stops the activity loop, releases a blocked wait and frees backend
// resources.
func (m *Mirror) Close() {
	m.loopMu.Lock()
	if m.closed {
		m.loopMu.Unlock()
		return
	}
	m.closed = true
	cancel, done := m.loopCancel, m.loopDone
	m.loopMu.Unlock()

	if cancel != nil {
		cancel()
		m.backend.UnblockWait()
		<-done
	}
	m.backend.Cleanup()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
