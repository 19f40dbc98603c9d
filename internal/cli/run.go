package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/panemirror/panemirror/internal/extension"
	"github.com/panemirror/panemirror/internal/policy"
	"github.com/panemirror/panemirror/internal/terminal"
)

// quietHost drops follow-ups; one-shot commands do not watch activity.
type quietHost struct{}

func (quietHost) FollowUp(context.Context, string) error { return nil }

func newOneShot(backend terminal.Backend) (*extension.Extension, error) {
	logger := slog.Default()
	p, err := policy.LoadOrDefault(cfg.Policy.File)
	if err != nil {
		return nil, err
	}
	cwd, _ := os.Getwd()
	return extension.New(backend, quietHost{}, extension.Options{
		Logger:     logger,
		Mirror:     mirrorOptions(cfg, nil, logger),
		Cwd:        cwd,
		Policy:     policy.NewHolder(p),
		ReadOnly:   cfg.Policy.ReadOnly,
		NoActivity: true,
	}), nil
}

func newRunCmd() *cobra.Command {
	var timeout int
	cmd := &cobra.Command{
		Use:   "run [flags] -- COMMAND...",
		Short: "Run one command in the shared terminal",
		Long: `Run one command in the shared pane, print its output and exit with its
exit code. A pane is created when none exists. Timed out commands exit 124,
interrupted ones 130.`,
		Example: `  panemirror run -- make test
  panemirror run --timeout 600 -- go test ./...`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := newBackend(cfg, slog.Default())
			if err != nil {
				return err
			}
			ext, err := newOneShot(backend)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runOne(ctx, cmd, ext, strings.Join(args, " "), timeout)
		},
	}
	cmd.Flags().IntVarP(&timeout, "timeout", "t", 0, "timeout in seconds (default from config)")
	return cmd
}

func runOne(ctx context.Context, cmd *cobra.Command, ext *extension.Extension, command string, timeout int) error {
	defer ext.SessionShutdown(context.WithoutCancel(ctx))

	in := extension.BashInput{Command: command}
	if timeout > 0 {
		in.Timeout = &timeout
	}
	res := ext.Bash(ctx, in)

	out := formatter(cmd)
	if out.IsJSON() {
		if err := out.JSON(res); err != nil {
			return err
		}
	} else if res.Details != nil {
		fmt.Fprintln(out.Writer(), res.Text)
	}

	if res.Details == nil {
		// Rejected or failed before running.
		return &ExitError{Code: 1, Err: errors.New(res.Text)}
	}
	if res.Details.ExitCode != 0 {
		return &ExitError{Code: res.Details.ExitCode}
	}
	return nil
}

func newReadCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print the shared terminal contents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := newBackend(cfg, slog.Default())
			if err != nil {
				return err
			}
			ext, err := newOneShot(backend)
			if err != nil {
				return err
			}
			defer ext.SessionShutdown(context.WithoutCancel(cmd.Context()))
			res := ext.ReadTerminal(cmd.Context(), extension.ReadInput{Lines: lines})
			if res.IsError {
				return errors.New(res.Text)
			}
			out := formatter(cmd)
			if out.IsJSON() {
				return out.JSON(res)
			}
			fmt.Fprint(out.Writer(), res.Text)
			if !strings.HasSuffix(res.Text, "\n") {
				out.Line()
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 0, "scrollback lines to read (default from config)")
	return cmd
}
