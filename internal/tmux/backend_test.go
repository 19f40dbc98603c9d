package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/panemirror/panemirror/internal/terminal"
)

// fakeRunner answers tmux invocations from a small in-memory server model.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []terminal.Cmd
	panes   []string
	env     map[string]string
	nextID  int
	capture string
	cwd     string
	shell   string
	woken   bool
}

func newFakeRunner(panes ...string) *fakeRunner {
	return &fakeRunner{panes: panes, env: map[string]string{}, nextID: 10, cwd: "/home/user", shell: "bash"}
}

func (f *fakeRunner) Run(ctx context.Context, cmd terminal.Cmd) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	args := cmd.Args
	if len(args) >= 2 && args[0] == "-S" {
		args = args[2:]
	}
	fail := func(msg string) (string, error) {
		return "", fmt.Errorf("%s: exit status 1: %s", cmd, msg)
	}
	switch args[0] {
	case "list-panes":
		return strings.Join(f.panes, "\n") + "\n", nil
	case "split-window":
		id := fmt.Sprintf("%%%d", f.nextID)
		f.nextID++
		f.panes = append(f.panes, id)
		return id + "\n", nil
	case "show-environment":
		key := args[len(args)-1]
		v, ok := f.env[key]
		if !ok {
			return fail("unknown variable: " + key)
		}
		return key + "=" + v + "\n", nil
	case "set-environment":
		if args[2] == "-u" {
			delete(f.env, args[3])
			return "", nil
		}
		f.env[args[2]] = args[3]
		return "", nil
	case "capture-pane":
		return f.capture, nil
	case "display-message":
		if strings.Contains(args[len(args)-1], "path") {
			return f.cwd + "\n", nil
		}
		return f.shell + "\n", nil
	case "wait-for":
		if args[1] == "-S" {
			f.woken = true
			return "", nil
		}
		if f.woken {
			f.woken = false
			return "", nil
		}
		return "", fmt.Errorf("%s: timed out after %s: %w", cmd, cmd.Timeout, context.DeadlineExceeded)
	}
	return "", nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

func newTestBackend(r *fakeRunner, mutate func(*Options)) *Backend {
	opts := Options{
		Client:         NewClient(r),
		TmuxEnv:        "/tmp/tmux-1000/default,1,0",
		ControllerPane: "%1",
		Cwd:            "/home/user",
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func TestEnsurePaneUnavailableOutsideTmux(t *testing.T) {
	b := newTestBackend(newFakeRunner("%1"), func(o *Options) { o.TmuxEnv = "" })
	err := b.EnsurePane(context.Background())
	if !errors.Is(err, terminal.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	var ue *terminal.UnavailableError
	if !errors.As(err, &ue) || ue.Hint == "" {
		t.Errorf("expected an actionable hint, got %v", err)
	}
}

func TestEnsurePaneSplitsAndPersistsHandle(t *testing.T) {
	r := newFakeRunner("%1")
	b := newTestBackend(r, nil)

	if err := b.EnsurePane(context.Background()); err != nil {
		t.Fatalf("EnsurePane: %v", err)
	}
	if b.Target() != "%10" {
		t.Fatalf("Target = %q, want %%10", b.Target())
	}
	if r.env["PANEMIRROR_PANE_1"] != "%10" {
		t.Errorf("handle not persisted: %v", r.env)
	}

	var split string
	for _, c := range r.commands() {
		if strings.Contains(c, "split-window") {
			split = c
		}
	}
	if split != "tmux split-window -h -d -P -F #{pane_id} -t %1 -c /home/user" {
		t.Errorf("unexpected split command %q", split)
	}

	// A second call while alive must not split again.
	if err := b.EnsurePane(context.Background()); err != nil {
		t.Fatalf("EnsurePane: %v", err)
	}
	if r.nextID != 11 {
		t.Errorf("expected one split, next id is %d", r.nextID)
	}
}

func TestEnsurePaneReattachesToPersistedHandle(t *testing.T) {
	r := newFakeRunner("%1", "%4")
	r.env["PANEMIRROR_PANE_1"] = "%4"
	b := newTestBackend(r, nil)

	if err := b.EnsurePane(context.Background()); err != nil {
		t.Fatalf("EnsurePane: %v", err)
	}
	if b.Target() != "%4" {
		t.Errorf("Target = %q, want %%4", b.Target())
	}
	for _, c := range r.commands() {
		if strings.Contains(c, "split-window") {
			t.Fatal("should reattach instead of splitting")
		}
	}
}

func TestEnsurePanePinnedTarget(t *testing.T) {
	r := newFakeRunner("%1", "%3")
	b := newTestBackend(r, func(o *Options) { o.Target = "%3" })
	if err := b.EnsurePane(context.Background()); err != nil {
		t.Fatalf("EnsurePane: %v", err)
	}
	if b.Target() != "%3" {
		t.Errorf("Target = %q", b.Target())
	}

	missing := newTestBackend(newFakeRunner("%1"), func(o *Options) { o.Target = "%9" })
	if err := missing.EnsurePane(context.Background()); !errors.Is(err, terminal.ErrNoPane) {
		t.Errorf("expected ErrNoPane for a missing pinned pane, got %v", err)
	}
}

func TestPaneDeathRecreates(t *testing.T) {
	r := newFakeRunner("%1")
	b := newTestBackend(r, nil)
	ctx := context.Background()
	if err := b.EnsurePane(ctx); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	r.panes = []string{"%1"}
	r.mu.Unlock()

	if b.PaneAlive(ctx) {
		t.Fatal("pane should be dead")
	}
	b.ResetState()
	if b.Target() != "" {
		t.Fatal("ResetState should drop the handle")
	}
	if err := b.EnsurePane(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Target() != "%11" {
		t.Errorf("expected a fresh pane, got %q", b.Target())
	}
}

func TestResetKeepsLivePane(t *testing.T) {
	r := newFakeRunner("%1")
	b := newTestBackend(r, nil)
	ctx := context.Background()
	if err := b.EnsurePane(ctx); err != nil {
		t.Fatal(err)
	}
	r.mu.Lock()
	r.env["PANEMIRROR_RC_1"] = "4 0"
	r.mu.Unlock()

	b.ResetState()
	if b.Target() != "" {
		t.Fatal("ResetState should drop the cached pane")
	}
	if err := b.EnsurePane(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Target() != "%10" {
		t.Errorf("Target = %q, want the live pane %%10 back", b.Target())
	}
	if r.nextID != 11 {
		t.Errorf("reset of a live pane split a new one (next id %d)", r.nextID)
	}
	if seq, _, _ := b.ReadRC(ctx); seq != 4 {
		t.Errorf("hook record lost: seq = %d", seq)
	}
}

func TestReadRC(t *testing.T) {
	r := newFakeRunner("%1")
	b := newTestBackend(r, nil)
	ctx := context.Background()

	seq, rc, err := b.ReadRC(ctx)
	if err != nil || seq != 0 || rc != 0 {
		t.Fatalf("unset record = (%d, %d, %v), want (0, 0, nil)", seq, rc, err)
	}
	r.env["PANEMIRROR_RC_1"] = "5 127"
	seq, rc, err = b.ReadRC(ctx)
	if err != nil || seq != 5 || rc != 127 {
		t.Fatalf("ReadRC = (%d, %d, %v), want (5, 127, nil)", seq, rc, err)
	}
}

func TestWaitForPromptAndUnblock(t *testing.T) {
	r := newFakeRunner("%1")
	b := newTestBackend(r, nil)
	ctx := context.Background()

	if b.WaitForPrompt(ctx, 10*time.Millisecond) {
		t.Fatal("no signal pending, wait should time out")
	}
	b.UnblockWait()
	if !b.WaitForPrompt(ctx, 10*time.Millisecond) {
		t.Fatal("expected the forced signal to release the wait")
	}
}

func TestPrepareForHookDrainsStaleSignal(t *testing.T) {
	r := newFakeRunner("%1")
	b := newTestBackend(r, nil)
	ctx := context.Background()

	b.UnblockWait()
	if err := b.PrepareForHook(ctx); err != nil {
		t.Fatalf("PrepareForHook: %v", err)
	}
	if b.WaitForPrompt(ctx, 10*time.Millisecond) {
		t.Fatal("stale signal survived PrepareForHook")
	}
}

func TestSendAndCapture(t *testing.T) {
	r := newFakeRunner("%1")
	b := newTestBackend(r, nil)
	ctx := context.Background()

	if err := b.SendText(ctx, "echo hi"); !errors.Is(err, terminal.ErrNoPane) {
		t.Fatalf("expected ErrNoPane before EnsurePane, got %v", err)
	}
	if err := b.EnsurePane(ctx); err != nil {
		t.Fatal(err)
	}
	_ = b.SendText(ctx, "echo 'a b'")
	_ = b.SendEnter(ctx)
	_ = b.SendCtrlC(ctx)
	r.capture = "  $ echo hi\nhi\n"
	out, err := b.CapturePane(ctx, 50)
	if err != nil || out != "  $ echo hi\nhi\n" {
		t.Fatalf("CapturePane = %q, %v", out, err)
	}

	cmds := r.commands()
	want := []string{
		"tmux send-keys -l -t %10 -- echo 'a b'",
		"tmux send-keys -t %10 Enter",
		"tmux send-keys -t %10 C-c",
		"tmux capture-pane -p -J -t %10 -S -50",
	}
	for _, w := range want {
		found := false
		for _, c := range cmds {
			if c == w {
				found = true
			}
		}
		if !found {
			t.Errorf("missing command %q in %q", w, cmds)
		}
	}
}

func TestHookCodeUsesScopedKeys(t *testing.T) {
	b := newTestBackend(newFakeRunner("%1"), nil)
	code := b.HookCode("zsh")
	for _, want := range []string{
		`tmux set-environment -g PANEMIRROR_RC_1 "$__mirror_rec"`,
		"tmux wait-for -S panemirror-1",
		"precmd_functions",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("hook code missing %q:\n%s", want, code)
		}
	}
}

func TestMarkBusy(t *testing.T) {
	r := newFakeRunner("%1")
	b := newTestBackend(r, func(o *Options) { o.BusyBorder = "colour208" })
	ctx := context.Background()
	_ = b.EnsurePane(ctx)
	_ = b.MarkBusy(ctx, true)
	_ = b.MarkBusy(ctx, false)

	cmds := strings.Join(r.commands(), "\n")
	if !strings.Contains(cmds, "tmux set-option -p -t %10 pane-border-style fg=colour208") {
		t.Errorf("border not set:\n%s", cmds)
	}
	if !strings.Contains(cmds, "tmux set-option -p -u -t %10 pane-border-style") {
		t.Errorf("border not reset:\n%s", cmds)
	}
}

func TestDescribe(t *testing.T) {
	r := newFakeRunner("%1", "%4")
	r.env["PANEMIRROR_PANE_1"] = "%4"
	r.env["PANEMIRROR_RC_1"] = "9 1"
	b := newTestBackend(r, nil)

	st, err := b.Describe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Pane != "%4" || !st.Alive || st.Seq != 9 || st.Exit != 1 {
		t.Errorf("Describe = %+v", st)
	}
}
