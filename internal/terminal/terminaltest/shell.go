// Package terminaltest provides an in-memory terminal.Backend that behaves
// like a pane running an interactive shell with the prompt hook.
package terminaltest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panemirror/panemirror/internal/terminal"
)

// Behavior is what a command does inside the fake pane.
type Behavior struct {
	Output string
	RC     int
	Delay  time.Duration
	Block  bool // runs until Ctrl-C
	Kill   bool // closes the pane
}

// Shell simulates one pane running an interactive shell. Commands are
// answered by Run; set Run and BrokenHook before the Shell is shared.
type Shell struct {
	mu sync.Mutex

	prompt  string
	alive   bool
	target  string
	created int
	lines   []string
	pending []string // lines typed since the last Enter that did not run yet
	seq, rc int
	hooked  bool
	busy    bool
	cwd     string
	shell   string

	// BrokenHook makes hook installation silently fail.
	BrokenHook bool
	// PromptFor renders the prompt for a working directory (default "$ ").
	PromptFor func(cwd string) string
	// Run decides what a command does (default DefaultRun).
	Run func(cmd string) Behavior

	signal chan struct{}
	sent   []string
	waits  int
	ctrlC  int
	fires  int
}

// NewShell returns a shell whose first pane is created by EnsurePane.
func NewShell() *Shell {
	f := &Shell{
		prompt: "$ ",
		cwd:    "/home/user",
		shell:  "bash",
		signal: make(chan struct{}, 64),
	}
	f.Run = f.DefaultRun
	return f
}

// DefaultRun knows pwd, ls, false, echo, sleep (blocks) and exit (closes
// the pane); anything else is "command not found".
func (f *Shell) DefaultRun(cmd string) Behavior {
	switch {
	case strings.TrimSpace(cmd) == "":
		return Behavior{}
	case cmd == "pwd":
		return Behavior{Output: f.cwd}
	case cmd == "ls":
		return Behavior{Output: "a.txt  b.txt"}
	case cmd == "false":
		return Behavior{RC: 1}
	case strings.HasPrefix(cmd, "echo "):
		return Behavior{Output: strings.Trim(strings.TrimPrefix(cmd, "echo "), `'"`)}
	case strings.HasPrefix(cmd, "sleep "):
		return Behavior{Block: true}
	case cmd == "exit":
		return Behavior{Kill: true}
	}
	return Behavior{Output: "bash: " + cmd + ": command not found", RC: 127}
}

func (f *Shell) Name() string { return "fake" }

func (f *Shell) EnsurePane(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alive {
		// A live pane is found again after ResetState.
		f.target = fmt.Sprintf("%%%d", f.created)
		return nil
	}
	f.created++
	f.alive = true
	f.target = fmt.Sprintf("%%%d", f.created)
	f.prompt = f.promptLocked()
	f.lines = []string{f.prompt}
	f.pending = nil
	f.seq, f.rc = 0, 0
	f.hooked = false
	f.busy = false
	return nil
}

func (f *Shell) PaneAlive(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive && f.target != ""
}

func (f *Shell) ResetState() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = ""
}

func (f *Shell) Target() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

func (f *Shell) CapturePane(_ context.Context, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive {
		return "", terminal.ErrPaneClosed
	}
	out := f.lines
	if lines > 0 && len(out) > lines {
		out = out[len(out)-lines:]
	}
	return strings.Join(out, "\n") + "\n\n\n", nil
}

func (f *Shell) PaneCwd(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cwd, nil
}

func (f *Shell) ShellName(context.Context) (string, error) { return f.shell, nil }

// SendText types into the pane. Each newline behaves like Enter.
func (f *Shell) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	parts := strings.Split(text, "\n")
	for i, p := range parts {
		f.typeText(p)
		if i < len(parts)-1 {
			f.enter()
		}
	}
	return nil
}

func (f *Shell) typeText(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines[len(f.lines)-1] += s
}

func (f *Shell) SendEnter(context.Context) error {
	f.enter()
	return nil
}

// enter accepts the current line. An open "{" group keeps collecting
// lines behind a "> " continuation prompt, like a real shell.
func (f *Shell) enter() {
	f.mu.Lock()
	last := f.lines[len(f.lines)-1]
	line := strings.TrimPrefix(strings.TrimPrefix(last, f.prompt), "> ")
	if f.busy {
		f.lines = append(f.lines, "")
		f.mu.Unlock()
		return
	}
	f.pending = append(f.pending, line)
	full := strings.Join(f.pending, "\n")
	if groupOpen(full) {
		f.lines = append(f.lines, "> ")
		f.mu.Unlock()
		return
	}
	f.pending = nil
	f.mu.Unlock()
	f.execute(full)
}

func (f *Shell) promptLocked() string {
	if f.PromptFor == nil {
		return "$ "
	}
	return f.PromptFor(f.cwd)
}

func groupOpen(cmd string) bool {
	body := cmd
	if _, rest, ok := strings.Cut(cmd, " && "); ok && strings.HasPrefix(cmd, "cd ") {
		body = rest
	}
	if !strings.HasPrefix(body, "{ ") {
		return false
	}
	lines := strings.Split(body, "\n")
	return strings.TrimSpace(lines[len(lines)-1]) != "}"
}

func (f *Shell) execute(full string) {
	f.mu.Lock()
	if strings.HasPrefix(full, "HOOK") {
		if !f.BrokenHook {
			f.hooked = true
		}
		f.lines = nil
		f.mu.Unlock()
		f.prompted(0)
		return
	}

	cmd := full
	if dir, rest, ok := strings.Cut(cmd, " && "); ok && strings.HasPrefix(dir, "cd '") {
		f.cwd = strings.TrimSuffix(strings.TrimPrefix(dir, "cd '"), "'")
		cmd = rest
	}
	var outputs []string
	var last Behavior
	for _, c := range splitGroup(cmd) {
		if dir, ok := strings.CutPrefix(c, "cd "); ok && !strings.Contains(dir, " ") {
			f.cwd = strings.Trim(dir, "'")
			last = Behavior{}
			continue
		}
		last = f.Run(c)
		if last.Output != "" {
			outputs = append(outputs, last.Output)
		}
	}
	if last.Kill {
		f.alive = false
		f.mu.Unlock()
		return
	}
	if last.Block {
		f.busy = true
		f.lines = append(f.lines, "")
		f.mu.Unlock()
		return
	}
	f.busy = true
	f.mu.Unlock()

	finish := func() {
		f.mu.Lock()
		f.busy = false
		if len(outputs) > 0 {
			f.lines = append(f.lines, strings.Split(strings.Join(outputs, "\n"), "\n")...)
		}
		f.mu.Unlock()
		f.prompted(last.RC)
	}
	if last.Delay > 0 {
		go func() {
			time.Sleep(last.Delay)
			finish()
		}()
		return
	}
	finish()
}

func splitGroup(cmd string) []string {
	if !strings.HasPrefix(cmd, "{ ") {
		return []string{cmd}
	}
	body := strings.TrimSuffix(strings.TrimPrefix(cmd, "{ "), "\n}")
	return strings.Split(body, "\n")
}

// prompted draws a fresh prompt and runs the hook.
func (f *Shell) prompted(rc int) {
	f.mu.Lock()
	if len(f.lines) > 0 && f.lines[len(f.lines)-1] == "" {
		f.lines = f.lines[:len(f.lines)-1]
	}
	f.prompt = f.promptLocked()
	f.lines = append(f.lines, f.prompt)
	fire := f.hooked
	if fire {
		f.seq++
		f.rc = rc
		f.fires++
	}
	f.mu.Unlock()
	if fire {
		f.signalOnce()
	}
}

func (f *Shell) signalOnce() {
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *Shell) SendCtrlC(context.Context) error {
	f.mu.Lock()
	f.ctrlC++
	wasBusy := f.busy
	f.busy = false
	f.pending = nil
	if f.alive {
		f.lines[len(f.lines)-1] += "^C"
	}
	f.mu.Unlock()
	if wasBusy {
		f.prompted(130)
	}
	return nil
}

func (f *Shell) HookCode(string) string { return "HOOK" }

func (f *Shell) PrepareForHook(context.Context) error {
	for {
		select {
		case <-f.signal:
		default:
			return nil
		}
	}
}

func (f *Shell) ReadRC(context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq, f.rc, nil
}

func (f *Shell) WaitForPrompt(ctx context.Context, timeout time.Duration) bool {
	f.mu.Lock()
	f.waits++
	f.mu.Unlock()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-f.signal:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (f *Shell) UnblockWait() { f.signalOnce() }

func (f *Shell) Cleanup() {}

// Human types a command into the pane as a person would.
func (f *Shell) Human(cmd string) {
	f.typeText(cmd)
	f.enter()
}

// LastSent returns the last text sent with SendText.
func (f *Shell) LastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

// HookFires counts prompt hook executions.
func (f *Shell) HookFires() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fires
}

// Sent returns every text sent with SendText.
func (f *Shell) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// Waits counts WaitForPrompt calls.
func (f *Shell) Waits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waits
}

// CtrlCs counts interrupts.
func (f *Shell) CtrlCs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctrlC
}

// Created counts panes opened by EnsurePane.
func (f *Shell) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Kill closes the pane as if the human exited the shell.
func (f *Shell) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}

var _ terminal.Backend = (*Shell)(nil)
