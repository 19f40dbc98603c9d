// Package tmux drives a shared pane split off the controller's tmux pane.
//
// All cross-process state lives in the tmux server: the pane handle and the
// hook record are global environment variables keyed by the controller
// pane id, and completion is signalled with "tmux wait-for".
package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/panemirror/panemirror/internal/shellhook"
	"github.com/panemirror/panemirror/internal/terminal"
	"github.com/panemirror/panemirror/internal/util"
)

// Options configures a Backend. Zero values fall back to the process
// environment.
type Options struct {
	Client *Client
	Store  terminal.Store // defaults to an EnvStore on Client

	// TmuxEnv is the value of $TMUX; empty means "not inside tmux".
	TmuxEnv string
	// ControllerPane is $TMUX_PANE, the pane the orchestrator runs in.
	ControllerPane string
	// Target pins an existing pane instead of splitting a new one.
	Target string
	// Cwd is the starting directory of a newly split pane.
	Cwd string
	// SplitFlag is "-h" (side by side, default) or "-v".
	SplitFlag string
	// BusyBorder colours the shared pane border while the agent runs a
	// command. Empty disables it.
	BusyBorder string

	Logger *slog.Logger
}

// OptionsFromEnv fills TmuxEnv, ControllerPane and Cwd from the process.
func OptionsFromEnv() Options {
	cwd, _ := os.Getwd()
	return Options{
		TmuxEnv:        os.Getenv("TMUX"),
		ControllerPane: os.Getenv("TMUX_PANE"),
		Cwd:            cwd,
	}
}

// Backend implements terminal.Backend on top of tmux.
type Backend struct {
	client *Client
	store  terminal.Store
	opts   Options
	logger *slog.Logger

	handleKey string
	rcKey     string
	channel   string

	mu   sync.Mutex
	pane string
}

// New creates a tmux backend.
func New(opts Options) *Backend {
	if opts.Client == nil {
		opts.Client = NewClient(nil)
	}
	if opts.Store == nil {
		opts.Store = NewEnvStore(opts.Client)
	}
	if opts.SplitFlag == "" {
		opts.SplitFlag = "-h"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scope := util.SanitizeKey(opts.ControllerPane)
	if scope == "" {
		scope = "default"
	}
	return &Backend{
		client:    opts.Client,
		store:     opts.Store,
		opts:      opts,
		logger:    logger.With("backend", "tmux"),
		handleKey: "PANEMIRROR_PANE_" + scope,
		rcKey:     "PANEMIRROR_RC_" + scope,
		channel:   "panemirror-" + scope,
	}
}

func (b *Backend) Name() string { return "tmux" }

// Target returns the current pane id, e.g. "%7".
func (b *Backend) Target() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pane
}

func (b *Backend) setPane(id string) {
	b.mu.Lock()
	b.pane = id
	b.mu.Unlock()
}

// Available reports why tmux cannot be driven, or nil.
func (b *Backend) Available() error {
	if b.opts.TmuxEnv == "" {
		return &terminal.UnavailableError{
			Backend: "tmux",
			Reason:  "not running inside tmux",
			Hint:    "start the agent from a tmux pane, or set PANEMIRROR_BACKEND=kitty",
		}
	}
	if !b.client.IsInstalled() {
		return &terminal.UnavailableError{
			Backend: "tmux",
			Reason:  "tmux binary not found on PATH",
			Hint:    "install tmux: brew install tmux (macOS) or apt install tmux (Linux)",
		}
	}
	return nil
}

// EnsurePane reuses the current pane while it is alive, then tries the
// pinned target, then the handle left in the server environment by an
// earlier process, and finally splits a new pane.
func (b *Backend) EnsurePane(ctx context.Context) error {
	if err := b.Available(); err != nil {
		return err
	}
	if b.Target() != "" && b.PaneAlive(ctx) {
		return nil
	}
	b.setPane("")

	live, err := b.client.ListPaneIDs(ctx)
	if err != nil {
		return fmt.Errorf("list panes: %w", err)
	}

	if pinned := b.opts.Target; pinned != "" {
		if !slices.Contains(live, pinned) {
			return fmt.Errorf("pinned pane %s: %w", pinned, terminal.ErrNoPane)
		}
		b.setPane(pinned)
		return nil
	}

	if handle, ok, err := b.store.Get(ctx, b.handleKey); err == nil && ok && slices.Contains(live, handle) {
		b.logger.Debug("reattached to existing pane", "pane", handle)
		b.setPane(handle)
		return nil
	}

	args := []string{"split-window", b.opts.SplitFlag, "-d", "-P", "-F", "#{pane_id}"}
	if b.opts.ControllerPane != "" {
		args = append(args, "-t", b.opts.ControllerPane)
	}
	if b.opts.Cwd != "" {
		args = append(args, "-c", b.opts.Cwd)
	}
	id, err := b.client.Run(ctx, args...)
	if err != nil {
		return fmt.Errorf("split pane: %w", err)
	}
	if id == "" {
		return fmt.Errorf("split pane: tmux printed no pane id: %w", terminal.ErrNoPane)
	}
	if err := b.store.Set(ctx, b.handleKey, id); err != nil {
		b.logger.Warn("failed to persist pane handle", "pane", id, "error", err)
	}
	b.logger.Debug("created shared pane", "pane", id)
	b.setPane(id)
	return nil
}

// PaneAlive lists live panes on every call.
func (b *Backend) PaneAlive(ctx context.Context) bool {
	pane := b.Target()
	if pane == "" {
		return false
	}
	live, err := b.client.ListPaneIDs(ctx)
	if err != nil {
		b.logger.Debug("liveness check failed", "pane", pane, "error", err)
		return false
	}
	return slices.Contains(live, pane)
}

// ResetState forgets the pane. Its server-side state is removed only when
// the pane is gone; a live pane is reattached by the next EnsurePane rather
// than abandoned for a new split.
func (b *Backend) ResetState() {
	pane := b.Target()
	b.setPane("")
	if b.opts.TmuxEnv == "" || pane == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), terminal.DefaultCommandTimeout)
	defer cancel()
	live, err := b.client.ListPaneIDs(ctx)
	if err != nil || slices.Contains(live, pane) {
		return
	}
	_ = b.store.Delete(ctx, b.handleKey)
	_ = b.store.Delete(ctx, b.rcKey)
}

func (b *Backend) requirePane() (string, error) {
	pane := b.Target()
	if pane == "" {
		return "", terminal.ErrNoPane
	}
	return pane, nil
}

// CapturePane runs "capture-pane -p -J"; -J rejoins soft-wrapped lines.
func (b *Backend) CapturePane(ctx context.Context, lines int) (string, error) {
	pane, err := b.requirePane()
	if err != nil {
		return "", err
	}
	args := []string{"capture-pane", "-p", "-J", "-t", pane}
	if lines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lines))
	}
	return b.client.RunRaw(ctx, 0, args...)
}

func (b *Backend) PaneCwd(ctx context.Context) (string, error) {
	pane, err := b.requirePane()
	if err != nil {
		return "", err
	}
	return b.client.DisplayMessage(ctx, pane, "#{pane_current_path}")
}

func (b *Backend) ShellName(ctx context.Context) (string, error) {
	pane, err := b.requirePane()
	if err != nil {
		return "", err
	}
	return b.client.DisplayMessage(ctx, pane, "#{pane_current_command}")
}

// SendText types text literally (send-keys -l).
func (b *Backend) SendText(ctx context.Context, text string) error {
	pane, err := b.requirePane()
	if err != nil {
		return err
	}
	return b.client.RunSilent(ctx, "send-keys", "-l", "-t", pane, "--", text)
}

func (b *Backend) SendEnter(ctx context.Context) error {
	return b.sendKey(ctx, "Enter")
}

func (b *Backend) SendCtrlC(ctx context.Context) error {
	return b.sendKey(ctx, "C-c")
}

func (b *Backend) sendKey(ctx context.Context, key string) error {
	pane, err := b.requirePane()
	if err != nil {
		return err
	}
	return b.client.RunSilent(ctx, "send-keys", "-t", pane, key)
}

// HookCode records "<seq> <exit>" in the server environment and fires the
// wait-for channel.
func (b *Backend) HookCode(shell string) string {
	bin := "tmux"
	if b.opts.Client.Socket != "" {
		bin += " -S " + terminal.ShellQuote(b.opts.Client.Socket)
	}
	return shellhook.Generate(shellhook.Detect(shell), shellhook.Spec{
		Persist: fmt.Sprintf(`%s set-environment -g %s "$%s"`, bin, b.rcKey, shellhook.RecordVar),
		Signal:  fmt.Sprintf("%s wait-for -S %s", bin, b.channel),
	})
}

// PrepareForHook drains a signal tmux may be holding for the channel.
// wait-for -S with no waiter leaves the channel "woken"; signalling again
// and then waiting consumes that state whether or not it was set.
func (b *Backend) PrepareForHook(ctx context.Context) error {
	if err := b.client.RunSilent(ctx, "wait-for", "-S", b.channel); err != nil {
		return fmt.Errorf("reset signal channel: %w", err)
	}
	if _, err := b.client.RunRaw(ctx, time.Second, "wait-for", b.channel); err != nil {
		return fmt.Errorf("drain signal channel: %w", err)
	}
	return nil
}

func (b *Backend) ReadRC(ctx context.Context) (int, int, error) {
	rec, ok, err := b.store.Get(ctx, b.rcKey)
	if err != nil {
		return 0, 0, fmt.Errorf("read hook record: %w", err)
	}
	if !ok {
		return 0, 0, nil
	}
	return terminal.ParseRC(rec)
}

// WaitForPrompt blocks in "tmux wait-for" until the hook signals. The
// client is killed when the timeout or ctx ends the wait.
func (b *Backend) WaitForPrompt(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	_, err := b.client.RunRaw(ctx, timeout, "wait-for", b.channel)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		b.logger.Debug("wait-for failed", "channel", b.channel, "error", err)
	}
	return err == nil
}

func (b *Backend) UnblockWait() {
	ctx, cancel := context.WithTimeout(context.Background(), terminal.DefaultCommandTimeout)
	defer cancel()
	_ = b.client.RunSilent(ctx, "wait-for", "-S", b.channel)
}

// Cleanup removes the hook record. The pane handle stays so a restarted
// orchestrator can reattach to the same pane.
func (b *Backend) Cleanup() {
	if b.opts.TmuxEnv == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), terminal.DefaultCommandTimeout)
	defer cancel()
	_ = b.store.Delete(ctx, b.rcKey)
	if pane := b.Target(); pane != "" && b.opts.BusyBorder != "" {
		_ = b.client.ResetPaneBorderStyle(ctx, pane)
	}
}

// MarkBusy colours the pane border while the agent is executing.
func (b *Backend) MarkBusy(ctx context.Context, busy bool) error {
	pane := b.Target()
	if pane == "" || b.opts.BusyBorder == "" {
		return nil
	}
	if busy {
		return b.client.SetPaneBorderStyle(ctx, pane, b.opts.BusyBorder)
	}
	return b.client.ResetPaneBorderStyle(ctx, pane)
}

// Describe reports the persisted handle and hook record without creating
// a pane.
func (b *Backend) Describe(ctx context.Context) (terminal.Status, error) {
	st := terminal.Status{Backend: b.Name()}
	if err := b.Available(); err != nil {
		return st, err
	}
	st.Pane = b.opts.Target
	if st.Pane == "" {
		st.Pane, _, _ = b.store.Get(ctx, b.handleKey)
	}
	if st.Pane != "" {
		live, err := b.client.ListPaneIDs(ctx)
		if err != nil {
			return st, err
		}
		st.Alive = slices.Contains(live, st.Pane)
	}
	seq, rc, err := b.ReadRC(ctx)
	if err != nil {
		return st, err
	}
	st.Seq, st.Exit = seq, rc
	return st, nil
}

var _ terminal.Backend = (*Backend)(nil)
var _ terminal.BusyMarker = (*Backend)(nil)
var _ terminal.Describer = (*Backend)(nil)
