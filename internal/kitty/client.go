package kitty

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/panemirror/panemirror/internal/terminal"
)

// Client runs "kitty @" remote-control commands.
type Client struct {
	Runner terminal.Runner
	Binary string // defaults to "kitty"
	// ListenOn is $KITTY_LISTEN_ON. Empty lets kitty use the controlling
	// terminal.
	ListenOn string
}

// NewClient creates a client that runs commands through runner.
func NewClient(runner terminal.Runner, listenOn string) *Client {
	if runner == nil {
		runner = terminal.ExecRunner{}
	}
	return &Client{Runner: runner, Binary: "kitty", ListenOn: listenOn}
}

func (c *Client) binary() string {
	if c.Binary == "" {
		return "kitty"
	}
	return c.Binary
}

// Run executes "kitty @ [--to socket] args..." with optional stdin.
func (c *Client) Run(ctx context.Context, stdin string, args ...string) (string, error) {
	full := []string{"@"}
	if c.ListenOn != "" {
		full = append(full, "--to", c.ListenOn)
	}
	full = append(full, args...)
	return c.Runner.Run(ctx, terminal.Cmd{Name: c.binary(), Args: full, Stdin: stdin})
}

// Process is a foreground process reported by "kitty @ ls".
type Process struct {
	PID     int      `json:"pid"`
	Cwd     string   `json:"cwd"`
	Cmdline []string `json:"cmdline"`
}

// Window is one kitty window from "kitty @ ls".
type Window struct {
	ID                  int       `json:"id"`
	Cwd                 string    `json:"cwd"`
	Columns             int       `json:"columns"`
	Lines               int       `json:"lines"`
	Cmdline             []string  `json:"cmdline"`
	IsSelf              bool      `json:"is_self"`
	ForegroundProcesses []Process `json:"foreground_processes"`
}

type tab struct {
	Windows []Window `json:"windows"`
}

type osWindow struct {
	Tabs []tab `json:"tabs"`
}

// ListWindows flattens the OS window / tab / window tree.
func (c *Client) ListWindows(ctx context.Context) ([]Window, error) {
	out, err := c.Run(ctx, "", "ls")
	if err != nil {
		return nil, err
	}
	return parseWindows(out)
}

func parseWindows(data string) ([]Window, error) {
	var tree []osWindow
	if err := json.Unmarshal([]byte(data), &tree); err != nil {
		return nil, fmt.Errorf("parse kitty ls: %w", err)
	}
	var windows []Window
	for _, ow := range tree {
		for _, t := range ow.Tabs {
			windows = append(windows, t.Windows...)
		}
	}
	return windows, nil
}

func findWindow(windows []Window, id string) (Window, bool) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return Window{}, false
	}
	for _, w := range windows {
		if w.ID == n {
			return w, true
		}
	}
	return Window{}, false
}

// newestWindow is the fallback when launch prints no id: the highest window
// id that is not the controller's own. Two concurrent launches can race.
func newestWindow(windows []Window, own string) (string, bool) {
	ownID, _ := strconv.Atoi(own)
	best := -1
	for _, w := range windows {
		if w.ID == ownID || w.IsSelf {
			continue
		}
		if w.ID > best {
			best = w.ID
		}
	}
	if best < 0 {
		return "", false
	}
	return strconv.Itoa(best), true
}

// shellOf names the window's shell from its child cmdline.
func shellOf(w Window) string {
	cmdline := w.Cmdline
	if len(cmdline) == 0 && len(w.ForegroundProcesses) > 0 {
		cmdline = w.ForegroundProcesses[0].Cmdline
	}
	if len(cmdline) == 0 {
		return ""
	}
	return strings.TrimPrefix(filepath.Base(cmdline[0]), "-")
}

// cwdOf prefers the foreground process cwd, which follows "cd".
func cwdOf(w Window) string {
	for i := len(w.ForegroundProcesses) - 1; i >= 0; i-- {
		if cwd := w.ForegroundProcesses[i].Cwd; cwd != "" {
			return cwd
		}
	}
	return w.Cwd
}
