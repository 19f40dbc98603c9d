package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/panemirror/panemirror/internal/config"
	"github.com/panemirror/panemirror/internal/kitty"
	"github.com/panemirror/panemirror/internal/output"
	"github.com/panemirror/panemirror/internal/policy"
	"github.com/panemirror/panemirror/internal/shellhook"
	"github.com/panemirror/panemirror/internal/terminal"
	"github.com/panemirror/panemirror/internal/tmux"
)

// DoctorReport contains the full health check report
type DoctorReport struct {
	Timestamp time.Time `json:"timestamp"`
	Overall   string    `json:"overall"` // "healthy", "warning", "unhealthy"
	Selected  string    `json:"selected_backend"`
	Checks    []Check   `json:"checks"`
	Warnings  int       `json:"warnings"`
	Errors    int       `json:"errors"`
}

// Check is one health check result.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warning", "error"
	Message string `json:"message,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check which terminal backends can be driven and why not",
		Long: `Validates that panemirror can drive a shared terminal. Checks:

  - tmux and kitty availability from this process
  - the shell dialect the hook will be generated for
  - configuration and policy files`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := runDoctor(cmd.Context(), cfg, os.Getenv)
			if err := printDoctor(cmd, report); err != nil {
				return err
			}
			if report.Errors > 0 {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}

func runDoctor(ctx context.Context, c *config.Config, getenv func(string) string) DoctorReport {
	report := DoctorReport{
		Timestamp: time.Now(),
		Selected:  resolveBackend(c.Backend, getenv),
	}

	tmuxClient := tmux.NewClient(nil)
	tmuxClient.Binary = c.Tmux.Binary
	tmuxClient.Socket = c.Tmux.Socket
	report.add(backendCheck(report.Selected, "tmux", tmux.New(tmux.Options{
		Client:         tmuxClient,
		TmuxEnv:        getenv("TMUX"),
		ControllerPane: getenv("TMUX_PANE"),
	})))

	kittyClient := kitty.NewClient(nil, getenv("KITTY_LISTEN_ON"))
	kittyClient.Binary = c.Kitty.Binary
	kb := kitty.New(kitty.Options{
		Client:   kittyClient,
		WindowID: getenv("KITTY_WINDOW_ID"),
		StateDir: c.Kitty.StateDir,
	})
	kc := backendCheck(report.Selected, "kitty", kb)
	if kc.Status == output.StatusOK {
		// Available does not exercise remote control; listing windows does.
		if _, err := kb.Describe(ctx); err != nil {
			kc = failedCheck(report.Selected, "kitty", err)
		}
	}
	report.add(kc)

	report.add(shellCheck(getenv("SHELL")))
	report.add(configCheck())
	report.add(policyCheck(c.Policy))

	switch {
	case report.Errors > 0:
		report.Overall = "unhealthy"
	case report.Warnings > 0:
		report.Overall = "warning"
	default:
		report.Overall = "healthy"
	}
	return report
}

func (r *DoctorReport) add(c Check) {
	switch c.Status {
	case output.StatusWarn:
		r.Warnings++
	case output.StatusErr:
		r.Errors++
	}
	r.Checks = append(r.Checks, c)
}

// backendCheck is an error for the selected backend and a warning for the
// other one.
func backendCheck(selected, name string, b availabler) Check {
	if err := b.Available(); err != nil {
		return failedCheck(selected, name, err)
	}
	msg := "available"
	if selected == name {
		msg += " (selected)"
	}
	return Check{Name: name, Status: output.StatusOK, Message: msg}
}

func failedCheck(selected, name string, err error) Check {
	c := Check{Name: name, Status: output.StatusWarn, Message: err.Error()}
	var ue *terminal.UnavailableError
	if errors.As(err, &ue) {
		c.Message, c.Hint = ue.Reason, ue.Hint
	}
	if selected == name {
		c.Status = output.StatusErr
	}
	return c
}

func shellCheck(shell string) Check {
	if shell == "" {
		return Check{
			Name:    "shell",
			Status:  output.StatusWarn,
			Message: "$SHELL is not set; the pane shell will be detected when it starts",
		}
	}
	return Check{
		Name:    "shell",
		Status:  output.StatusOK,
		Message: fmt.Sprintf("%s (hook dialect %s)", shell, shellhook.Detect(shell)),
	}
}

func configCheck() Check {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err != nil {
		return Check{
			Name:    "config",
			Status:  output.StatusOK,
			Message: "using defaults (" + path + " not found)",
			Hint:    "run 'panemirror config init' to create one",
		}
	}
	return Check{Name: "config", Status: output.StatusOK, Message: path}
}

func policyCheck(pc config.PolicyConfig) Check {
	p, err := policy.LoadOrDefault(pc.File)
	if err != nil {
		return Check{Name: "policy", Status: output.StatusErr, Message: err.Error()}
	}
	blocked, approval, allowed := p.Stats()
	msg := fmt.Sprintf("%d blocked, %d approval, %d allowed", blocked, approval, allowed)
	if _, err := os.Stat(pc.File); pc.File == "" || err != nil {
		msg = "built-in rules only"
	}
	if pc.ReadOnly {
		msg += "; read-only mode"
	}
	return Check{Name: "policy", Status: output.StatusOK, Message: msg}
}

func printDoctor(cmd *cobra.Command, r DoctorReport) error {
	out := formatter(cmd)
	if out.IsJSON() {
		return out.JSON(r)
	}
	s := out.Styles()
	out.Println(s.Title.Render("panemirror doctor"))
	out.Line()
	for _, c := range r.Checks {
		out.Textln("  %s %-7s %s", s.Mark(c.Status), c.Name, c.Message)
		if c.Hint != "" {
			out.Println(s.Muted.Render(out.Wrap(c.Hint, 12)))
		}
	}
	out.Line()
	var overall string
	switch r.Overall {
	case "healthy":
		overall = s.OK.Render(r.Overall)
	case "warning":
		overall = s.Warn.Render(r.Overall)
	default:
		overall = s.Error.Render(r.Overall)
	}
	out.Println(s.Box.Render(fmt.Sprintf("%s  selected backend: %s  %s, %s",
		overall, r.Selected,
		output.CountStr(r.Warnings, "warning", "warnings"),
		output.CountStr(r.Errors, "error", "errors"))))
	return nil
}
