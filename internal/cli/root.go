// Package cli implements the panemirror command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/panemirror/panemirror/internal/config"
	"github.com/panemirror/panemirror/internal/output"
)

var (
	cfgFile string
	cfg     *config.Config

	// Global flags - inherited by all subcommands
	backendName string
	debug       bool
	jsonOutput  bool
	noColor     bool

	logCloser io.Closer

	// Build information - set via ldflags
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panemirror",
		Short: "Share a real terminal pane between a coding agent and a human",
		Long: `panemirror runs an agent's shell commands in a terminal pane the human can
see and type into (tmux or kitty), and reports the commands the human runs
there back to the agent.

Quick Start:
  panemirror doctor                 # Check which terminal backend is usable
  panemirror run -- make test       # Run one command in the shared pane
  panemirror serve                  # Serve the bash tool over MCP stdio

Agent hooks:
  panemirror hook pre-tool-use      # Validate Bash tool calls against policy`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
		PersistentPostRun: func(*cobra.Command, []string) {
			if logCloser != nil {
				_ = logCloser.Close()
				logCloser = nil
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/panemirror/config.toml)")
	cmd.PersistentFlags().StringVar(&backendName, "backend", "", "terminal backend: auto, tmux or kitty")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging on stderr")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newReadCmd(),
		newStatusCmd(),
		newDoctorCmd(),
		newHookCmd(),
		newPolicyCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return cmd
}

// canSkipConfigLoading returns true for commands that never read config.
func canSkipConfigLoading(name string) bool {
	switch name {
	case "version", "path", "help", "completion":
		return true
	}
	return false
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if canSkipConfigLoading(cmd.Name()) {
		return nil
	}
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if backendName != "" {
		cfg.Backend = backendName
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger, closer, err := newLogger(cfg.Log, debug, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	logCloser = closer
	slog.SetDefault(logger)
	return nil
}

// newLogger builds the process logger. Logs never go to stdout, which
// carries MCP traffic and hook decisions.
func newLogger(lc config.LogConfig, debug bool, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level := parseLevel(lc.Level)
	if debug {
		level = slog.LevelDebug
	}
	w := stderr
	var closer io.Closer
	if lc.File != "" {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w, closer = f, f
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func formatter(cmd *cobra.Command) *output.Formatter {
	return output.New(cmd.OutOrStdout(), jsonOutput, noColor)
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		var ee *ExitError
		// Exit codes from commands are not failures of panemirror itself.
		if !errors.As(err, &ee) || ee.Err != nil {
			if !jsonOutput {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		}
		return err
	}
	return nil
}

// VersionInfo is the JSON form of the version command.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuiltAt   string `json:"built_at"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd, short)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	return cmd
}

func runVersion(cmd *cobra.Command, short bool) error {
	info := VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuiltAt:   Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	out := formatter(cmd)
	if out.IsJSON() {
		return out.JSON(info)
	}
	if short {
		out.Println(info.Version)
		return nil
	}
	out.Textln("panemirror version %s", info.Version)
	out.Textln("  commit:    %s", info.Commit)
	out.Textln("  built:     %s", info.BuiltAt)
	out.Textln("  go:        %s", info.GoVersion)
	out.Textln("  platform:  %s", info.Platform)
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefault(cfgFile)
			if err != nil {
				return err
			}
			formatter(cmd).Textln("Created configuration file: %s", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			path := cfgFile
			if path == "" {
				path = config.DefaultPath()
			}
			formatter(cmd).Println(path)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd)
			if out.IsJSON() {
				return out.JSON(cfg)
			}
			return config.Print(cfg, out.Writer())
		},
	})

	return cmd
}
