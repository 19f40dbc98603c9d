package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/panemirror/panemirror/internal/config"
	"github.com/panemirror/panemirror/internal/kitty"
	"github.com/panemirror/panemirror/internal/metrics"
	"github.com/panemirror/panemirror/internal/mirror"
	"github.com/panemirror/panemirror/internal/redaction"
	"github.com/panemirror/panemirror/internal/terminal"
	"github.com/panemirror/panemirror/internal/tmux"
)

// availabler is implemented by backends that can explain why they cannot
// run without touching any pane.
type availabler interface {
	Available() error
}

// resolveBackend turns "auto" into a concrete backend name: tmux when
// $TMUX is set, kitty when $KITTY_WINDOW_ID is set, tmux otherwise.
func resolveBackend(name string, getenv func(string) string) string {
	if name != "" && name != "auto" {
		return name
	}
	switch {
	case getenv("TMUX") != "":
		return "tmux"
	case getenv("KITTY_WINDOW_ID") != "":
		return "kitty"
	}
	return "tmux"
}

// newBackend builds the configured backend.
func newBackend(c *config.Config, logger *slog.Logger) (terminal.Backend, error) {
	switch name := resolveBackend(c.Backend, os.Getenv); name {
	case "tmux":
		client := tmux.NewClient(nil)
		client.Binary = c.Tmux.Binary
		client.Socket = c.Tmux.Socket
		opts := tmux.OptionsFromEnv()
		opts.Client = client
		opts.Target = c.Target
		opts.SplitFlag = c.SplitFlag()
		opts.BusyBorder = c.Tmux.BusyBorder
		opts.Logger = logger
		return tmux.New(opts), nil
	case "kitty":
		opts := kitty.OptionsFromEnv()
		opts.Client.Binary = c.Kitty.Binary
		opts.Target = c.Target
		opts.Location = c.Kitty.Location
		opts.StateDir = c.Kitty.StateDir
		opts.Logger = logger
		return kitty.New(opts), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// redactionConfig maps the activity redaction settings. Validate has
// already checked the mode.
func redactionConfig(c *config.Config) redaction.Config {
	mode, _ := redaction.ParseMode(c.Activity.Redact)
	return redaction.Config{Mode: mode, Allowlist: c.Activity.RedactAllowlist}
}

// mirrorOptions maps configuration onto orchestrator settings.
func mirrorOptions(c *config.Config, m *metrics.Metrics, logger *slog.Logger) mirror.Options {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return mirror.Options{
		Logger:         logger,
		Metrics:        m,
		DefaultTimeout: c.Timeout(),
		WaitSlice:      ms(c.Exec.WaitSliceMs),
		HookAttempts:   c.Hook.Attempts,
		HookWait:       ms(c.Hook.WaitMs),
		HookBackoff:    ms(c.Hook.BackoffMs),
		SettleDelay:    ms(c.Hook.SettleMs),
		CaptureLines:   c.Exec.CaptureLines,
		ReadLines:      c.Exec.ReadLines,
		ActivityWait:   time.Duration(c.Activity.WaitSeconds) * time.Second,
		BusyPoll:       ms(c.Activity.BusyPollMs),
		MinDiff:        c.Activity.MinDiff,
		MaxReportLines: c.Activity.MaxReportLines,
		MaxLineWidth:   c.Activity.MaxLineWidth,
	}
}
