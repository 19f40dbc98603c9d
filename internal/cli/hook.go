package cli

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/panemirror/panemirror/internal/output"
	"github.com/panemirror/panemirror/internal/policy"
	"github.com/panemirror/panemirror/internal/shellhook"
)

func newHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Agent and shell hook helpers",
	}
	cmd.AddCommand(newPreToolUseCmd(), newHookShowCmd())
	return cmd
}

func newPreToolUseCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "pre-tool-use",
		Short: "Validate a Bash tool call read from stdin against the command policy",
		Long: `Reads a PreToolUse hook request (JSON) on stdin and answers on stdout.
Blocked commands are denied, approval rules ask the user, everything else
is left to the host. Misconfigured hooks and working directories outside
the project root stop the agent.

Configure it as a PreToolUse hook matching "Bash" (and "mcp__.*__bash").`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if output.IsTerminal(in) {
				return errors.New("pre-tool-use expects hook JSON on stdin")
			}
			p, err := policy.LoadOrDefault(cfg.Policy.File)
			if err != nil {
				return err
			}
			if root == "" {
				root = policy.ProjectRoot()
			}
			if code := policy.RunPreToolUse(in, cmd.OutOrStdout(), p, root); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "project-root", "", "project root (default $CLAUDE_PROJECT_DIR or the working directory)")
	return cmd
}

func newHookShowCmd() *cobra.Command {
	var shell string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the shell hook the backend installs in the shared pane",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := newBackend(cfg, slog.Default())
			if err != nil {
				return err
			}
			out := formatter(cmd)
			code := backend.HookCode(shell)
			if out.IsJSON() {
				return out.JSON(map[string]string{
					"backend": backend.Name(),
					"dialect": string(shellhook.Detect(shell)),
					"hook":    code,
				})
			}
			out.Println(code)
			return nil
		},
	}
	cmd.Flags().StringVar(&shell, "shell", "bash", "shell to generate the hook for: bash, zsh or fish")
	return cmd
}
