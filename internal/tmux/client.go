package tmux

import (
	"context"
	"strings"
	"time"

	"github.com/panemirror/panemirror/internal/terminal"
)

// Client runs tmux commands through a terminal.Runner.
type Client struct {
	Runner terminal.Runner
	Binary string // defaults to "tmux"
	Socket string // optional -S socket path, used to isolate test servers
}

// NewClient creates a client that talks to the default server.
func NewClient(runner terminal.Runner) *Client {
	if runner == nil {
		runner = terminal.ExecRunner{}
	}
	return &Client{Runner: runner, Binary: "tmux"}
}

func (c *Client) cmd(timeout time.Duration, args []string) terminal.Cmd {
	bin := c.Binary
	if bin == "" {
		bin = "tmux"
	}
	if c.Socket != "" {
		args = append([]string{"-S", c.Socket}, args...)
	}
	return terminal.Cmd{Name: bin, Args: args, Timeout: timeout}
}

// Run executes a tmux command and returns trimmed stdout.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	out, err := c.Runner.Run(ctx, c.cmd(0, args))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RunRaw executes a tmux command with an explicit timeout and returns
// stdout untouched. Captures need the leading whitespace.
func (c *Client) RunRaw(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	return c.Runner.Run(ctx, c.cmd(timeout, args))
}

// RunSilent executes a tmux command ignoring output
func (c *Client) RunSilent(ctx context.Context, args ...string) error {
	_, err := c.Run(ctx, args...)
	return err
}

// IsInstalled checks if the tmux binary is on PATH
func (c *Client) IsInstalled() bool {
	bin := c.Binary
	if bin == "" {
		bin = "tmux"
	}
	return terminal.Available(bin)
}

// ListPaneIDs returns the ids of every live pane on the server.
func (c *Client) ListPaneIDs(ctx context.Context) ([]string, error) {
	out, err := c.Run(ctx, "list-panes", "-a", "-F", "#{pane_id}")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

// DisplayMessage expands a tmux format against a pane.
func (c *Client) DisplayMessage(ctx context.Context, target, format string) (string, error) {
	return c.Run(ctx, "display-message", "-p", "-t", target, format)
}
