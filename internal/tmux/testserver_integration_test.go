//go:build integration

package tmux

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/panemirror/panemirror/internal/terminal"
)

// TestServer is an isolated tmux server for integration tests.
type TestServer struct {
	Client *Client
	// ControllerPane is the first pane of the "work" session; tests act as
	// if the orchestrator were running in it.
	ControllerPane string
	// Env is a fake $TMUX value pointing at the test socket.
	Env string
}

// NewTestServer starts a tmux server on a private socket with -f /dev/null,
// so the user's ~/.tmux.conf is never read. Shells start as
// "bash --norc --noprofile" to keep prompts predictable. The server is
// killed when the test ends.
//
// All test tmux commands MUST go through the returned Client. A bare
// "tmux" targets the default server, which may be the one running the
// test itself.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	if !terminal.Available("tmux") {
		t.Skip("tmux not installed")
	}

	// Unix socket paths are limited to 108 bytes; t.TempDir can be long.
	dir, err := os.MkdirTemp("/tmp", "pm-tmux-")
	if err != nil {
		t.Fatalf("socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "tmux.sock")

	client := &Client{
		Runner: terminal.ExecRunner{Env: []string{"PS1=$ ", "TMUX=", "TMUX_PANE="}},
		Binary: "tmux",
		Socket: socket,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shell := "bash --norc --noprofile"
	if _, err := client.Run(ctx, "-f", "/dev/null", "new-session", "-d", "-s", "work", "-x", "200", "-y", "50", shell); err != nil {
		t.Fatalf("start tmux test server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.RunSilent(ctx, "kill-server")
	})
	_ = client.RunSilent(ctx, "set-option", "-g", "default-command", shell)

	pane, err := client.Run(ctx, "display-message", "-p", "-t", "work", "#{pane_id}")
	if err != nil {
		t.Fatalf("controller pane: %v", err)
	}
	return &TestServer{
		Client:         client,
		ControllerPane: pane,
		Env:            socket + ",0,0",
	}
}

// Backend returns a tmux backend wired to the test server.
func (s *TestServer) Backend(cwd string) *Backend {
	return New(Options{
		Client:         s.Client,
		TmuxEnv:        s.Env,
		ControllerPane: s.ControllerPane,
		Cwd:            cwd,
	})
}
