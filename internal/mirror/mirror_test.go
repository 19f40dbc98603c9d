package mirror

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/panemirror/panemirror/internal/terminal"
	"github.com/panemirror/panemirror/internal/terminal/terminaltest"
)

type recorder struct {
	mu      sync.Mutex
	reports []string
}

func (r *recorder) Report(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, text)
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reports...)
}

func testOptions(rep Reporter) Options {
	return Options{
		Reporter:      rep,
		WaitSlice:     20 * time.Millisecond,
		InterruptWait: 50 * time.Millisecond,
		HookWait:      50 * time.Millisecond,
		HookBackoff:   time.Millisecond,
		SettleDelay:   time.Millisecond,
		ActivityWait:  50 * time.Millisecond,
		BusyPoll:      5 * time.Millisecond,
		IdlePoll:      5 * time.Millisecond,
		Home:          "/home/user",
	}
}

func newTestMirror(t *testing.T) (*Mirror, *terminaltest.Shell, *recorder) {
	t.Helper()
	f := terminaltest.NewShell()
	rec := &recorder{}
	m := New(f, testOptions(rec))
	t.Cleanup(m.Close)
	return m, f, rec
}

func TestExecHappyPath(t *testing.T) {
	m, f, _ := newTestMirror(t)

	res, err := m.Exec(context.Background(), Request{Command: "echo hello", Cwd: "/home/user"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Output != "hello" || res.ExitCode != 0 {
		t.Errorf("result = %+v, want output hello exit 0", res)
	}
	if got := f.LastSent(); got != "echo hello" {
		t.Errorf("sent %q, want no cd prefix", got)
	}
	if !m.Ready() {
		t.Error("mirror should be ready after a command")
	}
}

func TestExecCwdMismatch(t *testing.T) {
	m, f, _ := newTestMirror(t)

	res, err := m.Exec(context.Background(), Request{Command: "pwd", Cwd: "/tmp/work"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got := f.LastSent(); got != "cd '/tmp/work' && pwd" {
		t.Errorf("sent %q", got)
	}
	if res.Output != "/tmp/work" {
		t.Errorf("output = %q, want /tmp/work", res.Output)
	}
	if res.Cwd != "/tmp/work" {
		t.Errorf("cwd = %q", res.Cwd)
	}
}

func TestExecOutputWithCwdPrompt(t *testing.T) {
	f := terminaltest.NewShell()
	f.PromptFor = func(cwd string) string { return "user@host:" + cwd + "# " }
	m := New(f, testOptions(nil))
	t.Cleanup(m.Close)
	ctx := context.Background()

	steps := []struct {
		req  Request
		want string
	}{
		{Request{Command: "echo one"}, "one"},
		{Request{Command: "cd /tmp"}, ""},
		{Request{Command: "echo two"}, "two"},
		{Request{Command: "ls"}, "a.txt  b.txt"},
		{Request{Command: "pwd", Cwd: "/srv/work"}, "/srv/work"},
	}
	for _, st := range steps {
		res, err := m.Exec(ctx, st.req)
		if err != nil {
			t.Fatalf("Exec(%q): %v", st.req.Command, err)
		}
		if res.Output != st.want {
			t.Errorf("Exec(%q) output = %q, want %q", st.req.Command, res.Output, st.want)
		}
	}
}

func TestExecExitCode(t *testing.T) {
	m, _, _ := newTestMirror(t)
	res, err := m.Exec(context.Background(), Request{Command: "false"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 1 || res.Output != "" {
		t.Errorf("result = %+v, want exit 1 and no output", res)
	}
}

func TestExecMultiLineFiresHookOnce(t *testing.T) {
	m, f, _ := newTestMirror(t)
	ctx := context.Background()
	if err := m.EnsureReady(ctx); err != nil {
		t.Fatal(err)
	}
	firesBefore := f.HookFires()

	res, err := m.Exec(ctx, Request{Command: "echo a\necho b\necho c\n"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got := f.HookFires() - firesBefore; got != 1 {
		t.Errorf("hook fired %d times, want 1", got)
	}
	if got := f.LastSent(); got != "{ echo a\necho b\necho c\n}" {
		t.Errorf("sent %q", got)
	}
	if res.Output != "a\nb\nc" {
		t.Errorf("output = %q, want a b c on three lines", res.Output)
	}
}

func TestExecSequenceMonotonic(t *testing.T) {
	m, f, _ := newTestMirror(t)
	ctx := context.Background()
	last := -1
	for _, cmd := range []string{"echo 1", "ls", "false", "pwd", "echo 5"} {
		if _, err := m.Exec(ctx, Request{Command: cmd}); err != nil {
			t.Fatalf("Exec(%q): %v", cmd, err)
		}
		seq, _, _ := f.ReadRC(ctx)
		if seq <= last {
			t.Fatalf("seq after %q = %d, not above %d", cmd, seq, last)
		}
		last = seq
	}
}

func TestExecRejectsStaleSignal(t *testing.T) {
	m, f, _ := newTestMirror(t)
	ctx := context.Background()
	if err := m.EnsureReady(ctx); err != nil {
		t.Fatal(err)
	}
	f.Run = func(cmd string) terminaltest.Behavior {
		if cmd == "slow" {
			return terminaltest.Behavior{Output: "done", Delay: 60 * time.Millisecond}
		}
		return f.DefaultRun(cmd)
	}
	// A leftover wake with no new hook record.
	f.UnblockWait()
	waitsBefore := f.Waits()

	res, err := m.Exec(ctx, Request{Command: "slow"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "done" {
		t.Errorf("output = %q, want done", res.Output)
	}
	if waits := f.Waits() - waitsBefore; waits < 2 {
		t.Errorf("expected to keep waiting after the stale signal, waited %d times", waits)
	}
}

func TestExecTimeout(t *testing.T) {
	m, f, _ := newTestMirror(t)

	res, err := m.Exec(context.Background(), Request{Command: "sleep 999", Timeout: 60 * time.Millisecond})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != ExitTimeout || !res.TimedOut {
		t.Errorf("result = %+v, want timeout exit %d", res, ExitTimeout)
	}
	if !strings.HasSuffix(res.Output, TimedOutNote) {
		t.Errorf("output %q should end with %q", res.Output, TimedOutNote)
	}
	if n := f.CtrlCs(); n != 1 {
		t.Errorf("sent Ctrl-C %d times, want 1", n)
	}

	// The pane is usable again afterwards.
	res, err = m.Exec(context.Background(), Request{Command: "echo after"})
	if err != nil || res.Output != "after" {
		t.Errorf("follow-up exec = %+v, %v", res, err)
	}
}

func TestExecCancel(t *testing.T) {
	m, f, _ := newTestMirror(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	res, err := m.Exec(ctx, Request{Command: "sleep 999"})
	if err != nil {
		t.Fatalf("cancellation should not be an error: %v", err)
	}
	if !res.Cancelled || res.ExitCode != ExitCancelled || res.Output != "Cancelled" {
		t.Errorf("result = %+v", res)
	}
	if n := f.CtrlCs(); n != 1 {
		t.Errorf("sent Ctrl-C %d times, want 1", n)
	}
}

func TestExecPaneDeathThenRecovery(t *testing.T) {
	m, f, _ := newTestMirror(t)
	ctx := context.Background()

	if _, err := m.Exec(ctx, Request{Command: "echo first"}); err != nil {
		t.Fatal(err)
	}
	_, err := m.Exec(ctx, Request{Command: "exit"})
	if !errors.Is(err, terminal.ErrPaneClosed) {
		t.Fatalf("expected ErrPaneClosed, got %v", err)
	}
	if m.Ready() {
		t.Fatal("state should be reset after pane death")
	}

	res, err := m.Exec(ctx, Request{Command: "echo again"})
	if err != nil {
		t.Fatalf("Exec after pane death: %v", err)
	}
	if res.Output != "again" {
		t.Errorf("output = %q", res.Output)
	}
	if n := f.Created(); n != 2 {
		t.Errorf("expected a second pane, created %d", n)
	}
}

func TestResetReattachesLivePane(t *testing.T) {
	m, f, _ := newTestMirror(t)
	ctx := context.Background()
	if _, err := m.Exec(ctx, Request{Command: "echo first"}); err != nil {
		t.Fatal(err)
	}

	// An unexpected error resets state while the pane is still open.
	m.Reset()
	res, err := m.Exec(ctx, Request{Command: "echo again"})
	if err != nil {
		t.Fatalf("Exec after reset: %v", err)
	}
	if res.Output != "again" {
		t.Errorf("output = %q", res.Output)
	}
	if n := f.Created(); n != 1 {
		t.Errorf("reset opened a new pane, created %d", n)
	}
	hooks := 0
	for _, s := range f.Sent() {
		if strings.HasPrefix(s, "HOOK") {
			hooks++
		}
	}
	if hooks != 2 {
		t.Errorf("hook sent %d times, want a reinstall after reset", hooks)
	}
}

func TestHookInstallFailure(t *testing.T) {
	m, f, _ := newTestMirror(t)
	f.BrokenHook = true

	_, err := m.Exec(context.Background(), Request{Command: "echo hi"})
	if !errors.Is(err, terminal.ErrHookInstall) {
		t.Fatalf("expected ErrHookInstall, got %v", err)
	}
	attempts := 0
	for _, s := range f.Sent() {
		if strings.HasPrefix(s, "HOOK") {
			attempts++
		}
	}
	if attempts != 3 {
		t.Errorf("hook sent %d times, want 3", attempts)
	}
}

func TestExecEmptyCommand(t *testing.T) {
	m, _, _ := newTestMirror(t)
	if _, err := m.Exec(context.Background(), Request{Command: "  "}); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("err = %v, want ErrEmptyCommand", err)
	}
}

func TestReadReturnsCapture(t *testing.T) {
	m, f, _ := newTestMirror(t)
	ctx := context.Background()
	if _, err := m.Exec(ctx, Request{Command: "echo visible"}); err != nil {
		t.Fatal(err)
	}
	out, err := m.Read(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "$ echo visible\nvisible") {
		t.Errorf("Read = %q", out)
	}
	if f.Created() != 1 {
		t.Errorf("Read should reuse the pane")
	}
}

func TestPrepareCommand(t *testing.T) {
	tests := []struct {
		cmd, cwd, paneCwd, want string
	}{
		{"ls", "", "/home/user", "ls"},
		{"ls", "/home/user/", "/home/user", "ls"},
		{"ls", "/tmp/it's", "/home/user", `cd '/tmp/it'\''s' && ls`},
		{"a\nb\n", "", "/x", "{ a\nb\n}"},
		{"cat <<EOF\nx\\y\nEOF", "/w", "/x", "cd '/w' && { cat <<EOF\nx\\y\nEOF\n}"},
	}
	for _, tt := range tests {
		if got := prepareCommand(tt.cmd, tt.cwd, tt.paneCwd); got != tt.want {
			t.Errorf("prepareCommand(%q, %q) = %q, want %q", tt.cmd, tt.cwd, got, tt.want)
		}
	}
}
