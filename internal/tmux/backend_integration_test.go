//go:build integration

package tmux

import (
	"context"
	"strings"
	"testing"
	"time"
)

// Run with: go test -tags=integration ./internal/tmux/...

func TestRealHookSignalsCompletion(t *testing.T) {
	srv := NewTestServer(t)
	b := srv.Backend(t.TempDir())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.EnsurePane(ctx); err != nil {
		t.Fatalf("EnsurePane: %v", err)
	}
	t.Cleanup(b.Cleanup)
	if !b.PaneAlive(ctx) {
		t.Fatal("new pane should be alive")
	}
	time.Sleep(300 * time.Millisecond)

	shell, err := b.ShellName(ctx)
	if err != nil {
		t.Fatalf("ShellName: %v", err)
	}
	if err := b.PrepareForHook(ctx); err != nil {
		t.Fatalf("PrepareForHook: %v", err)
	}
	if err := b.SendText(ctx, b.HookCode(shell)+"; clear"); err != nil {
		t.Fatal(err)
	}
	if err := b.SendEnter(ctx); err != nil {
		t.Fatal(err)
	}
	if !b.WaitForPrompt(ctx, 5*time.Second) {
		t.Fatal("hook never signalled")
	}
	seq1, _, err := b.ReadRC(ctx)
	if err != nil || seq1 < 1 {
		t.Fatalf("after install ReadRC = %d, %v", seq1, err)
	}

	_ = b.SendText(ctx, "false")
	_ = b.SendEnter(ctx)
	deadline := time.Now().Add(5 * time.Second)
	var seq2, rc int
	for time.Now().Before(deadline) {
		b.WaitForPrompt(ctx, time.Second)
		seq2, rc, _ = b.ReadRC(ctx)
		if seq2 > seq1 {
			break
		}
	}
	if seq2 <= seq1 || rc != 1 {
		t.Fatalf("after false: seq %d (before %d) rc %d", seq2, seq1, rc)
	}

	out, err := b.CapturePane(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "false") {
		t.Errorf("capture missing typed command:\n%s", out)
	}
}

func TestRealPaneDeathDetected(t *testing.T) {
	srv := NewTestServer(t)
	b := srv.Backend(t.TempDir())
	ctx := context.Background()

	if err := b.EnsurePane(ctx); err != nil {
		t.Fatal(err)
	}
	first := b.Target()
	if err := srv.Client.RunSilent(ctx, "kill-pane", "-t", first); err != nil {
		t.Fatal(err)
	}
	if b.PaneAlive(ctx) {
		t.Fatal("killed pane reported alive")
	}
	b.ResetState()
	if err := b.EnsurePane(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Target() == first || b.Target() == "" {
		t.Errorf("expected a new pane, got %q", b.Target())
	}
}
