package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a single multiplexer CLI invocation.
const DefaultCommandTimeout = 5 * time.Second

// Cmd describes one external program invocation.
type Cmd struct {
	Name    string
	Args    []string
	Stdin   string
	Timeout time.Duration // zero means DefaultCommandTimeout; negative means none
}

func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner runs external programs on behalf of a backend. The host may supply
// its own (for example to route through a sandbox); ExecRunner is the
// default.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Env, when non-nil, is appended to the inherited environment.
	Env []string
}

// Run executes cmd and returns its stdout. Failures include the trimmed
// stderr so callers can match on tmux/kitty messages.
func (r ExecRunner) Run(ctx context.Context, cmd Cmd) (string, error) {
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if len(r.Env) > 0 {
		c.Env = append(c.Environ(), r.Env...)
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stdout.String(), fmt.Errorf("%s: timed out after %s: %w", cmd, timeout, context.DeadlineExceeded)
		}
		if ctx.Err() != nil {
			return stdout.String(), fmt.Errorf("%s: %w", cmd, ctx.Err())
		}
		if errStr := strings.TrimSpace(stderr.String()); errStr != "" {
			return stdout.String(), fmt.Errorf("%s: %w: %s", cmd, err, errStr)
		}
		return stdout.String(), fmt.Errorf("%s: %w", cmd, err)
	}
	return stdout.String(), nil
}

// Available reports whether the named program is on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
