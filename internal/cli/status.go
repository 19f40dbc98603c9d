package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/panemirror/panemirror/internal/terminal"
)

// StatusReport is the JSON form of the status command.
type StatusReport struct {
	Backend   string `json:"backend"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Pane      string `json:"pane,omitempty"`
	Alive     bool   `json:"alive"`
	Seq       int    `json:"seq"`
	Exit      int    `json:"exit"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the shared pane and its last hook record",
		Long: `Show the persisted pane handle, whether the pane is alive and the last
command sequence number and exit code the hook recorded. Never creates a pane.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := newBackend(cfg, slog.Default())
			if err != nil {
				return err
			}
			report, err := describe(cmd, backend)
			if err != nil {
				return err
			}
			return printStatus(cmd, report)
		},
	}
}

func describe(cmd *cobra.Command, backend terminal.Backend) (StatusReport, error) {
	report := StatusReport{Backend: backend.Name()}
	d, ok := backend.(terminal.Describer)
	if !ok {
		return report, fmt.Errorf("backend %s cannot report status", backend.Name())
	}
	st, err := d.Describe(cmd.Context())
	var ue *terminal.UnavailableError
	switch {
	case errors.As(err, &ue):
		report.Reason, report.Hint = ue.Reason, ue.Hint
		return report, nil
	case err != nil:
		return report, err
	}
	report.Available = true
	report.Pane, report.Alive = st.Pane, st.Alive
	report.Seq, report.Exit = st.Seq, st.Exit
	return report, nil
}

func printStatus(cmd *cobra.Command, r StatusReport) error {
	out := formatter(cmd)
	if out.IsJSON() {
		return out.JSON(r)
	}
	s := out.Styles()
	out.Println(s.Title.Render("panemirror status"))
	out.Textln("  backend:  %s", r.Backend)
	if !r.Available {
		out.Textln("  state:    %s", s.Error.Render("unavailable: "+r.Reason))
		if r.Hint != "" {
			out.Println(s.Muted.Render(out.Wrap(r.Hint, 12)))
		}
		return nil
	}
	switch {
	case r.Pane == "":
		out.Textln("  pane:     %s", s.Muted.Render("none yet"))
	case r.Alive:
		out.Textln("  pane:     %s %s", r.Pane, s.OK.Render("alive"))
	default:
		out.Textln("  pane:     %s %s", r.Pane, s.Warn.Render("gone"))
	}
	if r.Seq > 0 {
		out.Textln("  last:     #%d exited %d", r.Seq, r.Exit)
	} else {
		out.Textln("  last:     %s", s.Muted.Render("no hook record"))
	}
	return nil
}
