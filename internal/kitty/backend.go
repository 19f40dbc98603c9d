// Package kitty drives a shared kitty window through remote control.
//
// kitty has no server-side environment, so the window handle lives in a
// file keyed by the controller's own window id, and each orchestrator
// session gets a private directory holding the hook record ("rc") and a
// named pipe used as the completion signal.
package kitty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/panemirror/panemirror/internal/shellhook"
	"github.com/panemirror/panemirror/internal/terminal"
)

// Options configures a Backend.
type Options struct {
	Client *Client

	// WindowID is $KITTY_WINDOW_ID, the controller's own window.
	WindowID string
	// Target pins an existing window id instead of launching one.
	Target string
	// Cwd is the starting directory of a launched window.
	Cwd string
	// Location is the launch --location value (default "vsplit").
	Location string
	// StateDir holds handle files and session directories
	// (default os.TempDir()).
	StateDir string

	Logger *slog.Logger
}

// OptionsFromEnv fills WindowID, Cwd and the client socket from the process.
func OptionsFromEnv() Options {
	cwd, _ := os.Getwd()
	return Options{
		Client:   NewClient(nil, os.Getenv("KITTY_LISTEN_ON")),
		WindowID: os.Getenv("KITTY_WINDOW_ID"),
		Cwd:      cwd,
	}
}

// Backend implements terminal.Backend on top of kitty remote control.
type Backend struct {
	client *Client
	store  *FileStore
	opts   Options
	logger *slog.Logger

	handleKey string

	mu      sync.Mutex
	window  string
	session string // per-session directory name under StateDir
	fifo    *os.File
}

// New creates a kitty backend.
func New(opts Options) *Backend {
	if opts.Client == nil {
		opts.Client = NewClient(nil, "")
	}
	if opts.Location == "" {
		opts.Location = "vsplit"
	}
	if opts.StateDir == "" {
		opts.StateDir = os.TempDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		client:    opts.Client,
		store:     &FileStore{Dir: opts.StateDir},
		opts:      opts,
		logger:    logger.With("backend", "kitty"),
		handleKey: fmt.Sprintf("panemirror-kitty-%s.handle", opts.WindowID),
	}
}

func (b *Backend) Name() string { return "kitty" }

// Target returns the current window id.
func (b *Backend) Target() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window
}

// Available reports why kitty cannot be driven, or nil. It does not test
// remote control; EnsurePane reports that failure.
func (b *Backend) Available() error {
	if b.opts.WindowID == "" {
		return &terminal.UnavailableError{
			Backend: "kitty",
			Reason:  "not running inside kitty",
			Hint:    "start the agent from a kitty window, or set PANEMIRROR_BACKEND=tmux",
		}
	}
	if !terminal.Available(b.client.binary()) {
		return &terminal.UnavailableError{
			Backend: "kitty",
			Reason:  "kitty binary not found on PATH",
		}
	}
	return nil
}

func remoteControlOff(err error) error {
	return &terminal.UnavailableError{
		Backend: "kitty",
		Reason:  fmt.Sprintf("remote control failed: %v", err),
		Hint:    "add 'allow_remote_control yes' and 'listen_on unix:/tmp/kitty' to kitty.conf",
	}
}

// EnsurePane reuses a live window, then the pinned target, then the handle
// file, and finally launches a new window. Signal resources are created
// alongside.
func (b *Backend) EnsurePane(ctx context.Context) error {
	if err := b.Available(); err != nil {
		return err
	}
	windows, err := b.client.ListWindows(ctx)
	if err != nil {
		return remoteControlOff(err)
	}

	if cur := b.Target(); cur != "" {
		if _, ok := findWindow(windows, cur); ok {
			return b.ensureSession()
		}
	}
	b.setWindow("")

	if pinned := b.opts.Target; pinned != "" {
		if _, ok := findWindow(windows, pinned); !ok {
			return fmt.Errorf("pinned window %s: %w", pinned, terminal.ErrNoPane)
		}
		b.setWindow(pinned)
		return b.ensureSession()
	}

	if handle, ok, _ := b.store.Get(ctx, b.handleKey); ok {
		if _, alive := findWindow(windows, handle); alive {
			b.logger.Debug("reattached to existing window", "window", handle)
			b.setWindow(handle)
			return b.ensureSession()
		}
	}

	id, err := b.launch(ctx)
	if err != nil {
		return err
	}
	if err := b.store.Set(ctx, b.handleKey, id); err != nil {
		b.logger.Warn("failed to persist window handle", "window", id, "error", err)
	}
	b.setWindow(id)
	return b.ensureSession()
}

func (b *Backend) launch(ctx context.Context) (string, error) {
	args := []string{"launch", "--type=window", "--location=" + b.opts.Location, "--keep-focus"}
	if b.opts.Cwd != "" {
		args = append(args, "--cwd="+b.opts.Cwd)
	}
	out, err := b.client.Run(ctx, "", args...)
	if err != nil {
		return "", fmt.Errorf("launch window: %w", err)
	}
	if id := strings.TrimSpace(out); id != "" {
		if _, err := strconv.Atoi(id); err == nil {
			b.logger.Debug("launched shared window", "window", id)
			return id, nil
		}
	}

	// Older kitty versions print nothing; pick the newest window instead.
	windows, err := b.client.ListWindows(ctx)
	if err != nil {
		return "", fmt.Errorf("find launched window: %w", err)
	}
	id, ok := newestWindow(windows, b.opts.WindowID)
	if !ok {
		return "", fmt.Errorf("find launched window: %w", terminal.ErrNoPane)
	}
	b.logger.Debug("launched shared window (found by scan)", "window", id)
	return id, nil
}

func (b *Backend) setWindow(id string) {
	b.mu.Lock()
	b.window = id
	b.mu.Unlock()
}

// ensureSession creates the session directory and opens the signal pipe
// read-write. Holding a writer open ourselves means the hook's write never
// blocks on open and a signal written while nobody reads stays buffered.
func (b *Backend) ensureSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fifo != nil {
		return nil
	}
	session := "panemirror-" + uuid.NewString()
	dir := filepath.Join(b.opts.StateDir, session)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	fifoPath := filepath.Join(dir, "signal.fifo")
	if err := unix.Mkfifo(fifoPath, 0600); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("create fifo: %w", err)
	}
	f, err := os.OpenFile(fifoPath, os.O_RDWR, os.ModeNamedPipe)
	if err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("open fifo: %w", err)
	}
	b.session = session
	b.fifo = f
	return nil
}

func (b *Backend) signalFile() *os.File {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fifo
}

func (b *Backend) sessionDir() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == "" {
		return ""
	}
	return filepath.Join(b.opts.StateDir, b.session)
}

// PaneAlive lists windows on every call.
func (b *Backend) PaneAlive(ctx context.Context) bool {
	_, err := b.liveWindow(ctx)
	return err == nil
}

// liveWindow fetches the live listing entry for the current window.
func (b *Backend) liveWindow(ctx context.Context) (Window, error) {
	id := b.Target()
	if id == "" {
		return Window{}, terminal.ErrNoPane
	}
	windows, err := b.client.ListWindows(ctx)
	if err != nil {
		return Window{}, err
	}
	w, ok := findWindow(windows, id)
	if !ok {
		return Window{}, fmt.Errorf("window %s: %w", id, terminal.ErrPaneClosed)
	}
	return w, nil
}

// ResetState forgets the window and tears down the session directory. The
// handle file is removed only when the window is gone, so a live window is
// reattached by the next EnsurePane.
func (b *Backend) ResetState() {
	ctx, cancel := context.WithTimeout(context.Background(), terminal.DefaultCommandTimeout)
	defer cancel()
	if _, err := b.liveWindow(ctx); errors.Is(err, terminal.ErrPaneClosed) {
		_ = b.store.Delete(ctx, b.handleKey)
	}
	b.setWindow("")
	b.closeSession()
}

func (b *Backend) closeSession() {
	b.mu.Lock()
	f, session := b.fifo, b.session
	b.fifo, b.session = nil, ""
	b.mu.Unlock()
	if f != nil {
		_ = f.Close()
	}
	if session != "" {
		_ = os.RemoveAll(filepath.Join(b.opts.StateDir, session))
	}
}

// CapturePane uses get-text with wrap markers and rejoins soft-wrapped
// lines. lines > 0 keeps the tail of the full scrollback.
func (b *Backend) CapturePane(ctx context.Context, lines int) (string, error) {
	id := b.Target()
	if id == "" {
		return "", terminal.ErrNoPane
	}
	extent := "screen"
	if lines > 0 {
		extent = "all"
	}
	out, err := b.client.Run(ctx, "", "get-text", "--match", "id:"+id, "--extent", extent, "--add-wrap-markers")
	if err != nil {
		return "", err
	}
	logical := joinWrapped(out)
	if lines > 0 && len(logical) > lines {
		logical = logical[len(logical)-lines:]
	}
	return strings.Join(logical, "\n") + "\n", nil
}

// joinWrapped splits get-text output into logical lines. kitty ends a
// soft-wrapped physical line with '\r'.
func joinWrapped(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	var (
		out []string
		cur strings.Builder
	)
	for _, phys := range strings.Split(text, "\n") {
		if strings.HasSuffix(phys, "\r") {
			cur.WriteString(strings.TrimSuffix(phys, "\r"))
			continue
		}
		cur.WriteString(phys)
		out = append(out, cur.String())
		cur.Reset()
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func (b *Backend) PaneCwd(ctx context.Context) (string, error) {
	w, err := b.liveWindow(ctx)
	if err != nil {
		return "", err
	}
	return cwdOf(w), nil
}

func (b *Backend) ShellName(ctx context.Context) (string, error) {
	w, err := b.liveWindow(ctx)
	if err != nil {
		return "", err
	}
	return shellOf(w), nil
}

// SendText passes text on stdin so kitty does no escape processing.
func (b *Backend) SendText(ctx context.Context, text string) error {
	id := b.Target()
	if id == "" {
		return terminal.ErrNoPane
	}
	_, err := b.client.Run(ctx, text, "send-text", "--match", "id:"+id, "--stdin")
	return err
}

func (b *Backend) SendEnter(ctx context.Context) error { return b.SendText(ctx, "\r") }

func (b *Backend) SendCtrlC(ctx context.Context) error { return b.SendText(ctx, "\x03") }

// HookCode persists the record with a rename and signals from a detached
// subshell so the prompt never waits on the pipe. Both steps are skipped
// quietly once the session directory is gone, since the hook outlives the
// orchestrator in the human's shell.
func (b *Backend) HookCode(shell string) string {
	dir := b.sessionDir()
	qdir := terminal.ShellQuote(dir)
	rc := terminal.ShellQuote(filepath.Join(dir, "rc"))
	tmp := terminal.ShellQuote(filepath.Join(dir, "rc.tmp"))
	fifo := terminal.ShellQuote(filepath.Join(dir, "signal.fifo"))
	return shellhook.Generate(shellhook.Detect(shell), shellhook.Spec{
		Persist: fmt.Sprintf(`test -d %s && printf '%%s\n' "$%s" 2>/dev/null > %s && mv -f %s %s 2>/dev/null`,
			qdir, shellhook.RecordVar, tmp, tmp, rc),
		Signal: fmt.Sprintf("( test -p %s && printf x 2>/dev/null > %s & )", fifo, fifo),
	})
}

// PrepareForHook discards bytes already sitting in the pipe.
func (b *Backend) PrepareForHook(ctx context.Context) error {
	f := b.signalFile()
	if f == nil {
		return terminal.ErrNoPane
	}
	buf := make([]byte, 64)
	for {
		if err := f.SetReadDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
			return fmt.Errorf("drain fifo: %w", err)
		}
		n, err := f.Read(buf)
		if err != nil || n == 0 {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (b *Backend) ReadRC(ctx context.Context) (int, int, error) {
	dir := b.sessionDir()
	if dir == "" {
		return 0, 0, nil
	}
	rec, ok, err := b.store.Get(ctx, filepath.Join(filepath.Base(dir), "rc"))
	if err != nil {
		return 0, 0, fmt.Errorf("read hook record: %w", err)
	}
	if !ok {
		return 0, 0, nil
	}
	return terminal.ParseRC(rec)
}

// WaitForPrompt reads from the pipe under a deadline. Cancellation pulls
// the deadline in to now. Up to 64 bytes are consumed so signals that
// stacked up while nobody was reading collapse into one wake.
func (b *Backend) WaitForPrompt(ctx context.Context, timeout time.Duration) bool {
	f := b.signalFile()
	if f == nil || timeout <= 0 {
		return false
	}
	if err := f.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false
	}
	stop := context.AfterFunc(ctx, func() {
		_ = f.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 64)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) && !errors.Is(err, os.ErrClosed) {
		b.logger.Debug("fifo read failed", "error", err)
	}
	return err == nil && n > 0
}

// UnblockWait writes one byte through our own descriptor.
func (b *Backend) UnblockWait() {
	if f := b.signalFile(); f != nil {
		_, _ = f.Write([]byte{'x'})
	}
}

// Cleanup closes the pipe and removes the session directory. The handle
// file stays so a restarted orchestrator can reattach.
func (b *Backend) Cleanup() {
	b.closeSession()
}

// Describe reports the persisted handle and liveness without launching.
func (b *Backend) Describe(ctx context.Context) (terminal.Status, error) {
	st := terminal.Status{Backend: b.Name()}
	if err := b.Available(); err != nil {
		return st, err
	}
	st.Pane = b.opts.Target
	if st.Pane == "" {
		st.Pane, _, _ = b.store.Get(ctx, b.handleKey)
	}
	windows, err := b.client.ListWindows(ctx)
	if err != nil {
		return st, remoteControlOff(err)
	}
	if st.Pane != "" {
		_, st.Alive = findWindow(windows, st.Pane)
	}
	seq, rc, err := b.ReadRC(ctx)
	if err != nil {
		return st, err
	}
	st.Seq, st.Exit = seq, rc
	return st, nil
}

var _ terminal.Backend = (*Backend)(nil)
var _ terminal.Describer = (*Backend)(nil)
